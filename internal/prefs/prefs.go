// Package prefs keeps small per-user state next to the repository cache:
// the last sidebar tab, chat transcripts and the citation panel toggle.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thiagokokada/gitodyssey/internal/api"
	"github.com/thiagokokada/gitodyssey/internal/cache"
	"github.com/thiagokokada/gitodyssey/internal/repo"
)

const (
	SidebarTabKey        = "git-odyssey-sidebar-tab"
	ChatPrefix           = "git-odyssey-chat-"
	CitationsExpandedKey = "git-odyssey-citations-expanded"
)

type Tab string

const (
	TabSearch  Tab = "search"
	TabChat    Tab = "chat"
	TabSummary Tab = "summary"

	DefaultTab = TabSearch
)

func ParseTab(raw string) (Tab, error) {
	switch t := Tab(raw); t {
	case TabSearch, TabChat, TabSummary:
		return t, nil
	default:
		return "", fmt.Errorf("unknown sidebar tab %q", raw)
	}
}

// ChatKey is the storage key of the transcript for owner/name.
func ChatKey(owner, name string) string {
	return ChatPrefix + owner + "-" + name
}

// Store reads and writes preferences. Read failures fall back to defaults
// and are only logged.
type Store struct {
	// mu serializes read-modify-write of transcripts.
	mu    sync.Mutex
	store cache.Store
	now   func() time.Time
	newID func() string
}

func New(store cache.Store) *Store {
	if store == nil {
		store = cache.NewMemoryStore(0)
	}
	return &Store{store: store, now: time.Now, newID: uuid.NewString}
}

func (s *Store) SidebarTab() Tab {
	raw, err := s.store.Get(SidebarTabKey)
	if err != nil {
		if !errors.Is(err, cache.ErrNotExist) {
			slog.Warn("read sidebar tab", slog.Any("error", err))
		}
		return DefaultTab
	}
	tab, err := ParseTab(string(raw))
	if err != nil {
		slog.Debug("ignoring stored sidebar tab", slog.Any("error", err))
		return DefaultTab
	}
	return tab
}

func (s *Store) SetSidebarTab(tab Tab) error {
	if _, err := ParseTab(string(tab)); err != nil {
		return err
	}
	if err := s.store.Set(SidebarTabKey, []byte(tab)); err != nil {
		return fmt.Errorf("save sidebar tab: %w", err)
	}
	return nil
}

// ClearSidebarTab forgets the stored tab so the default applies again.
func (s *Store) ClearSidebarTab() error {
	if err := s.store.Delete(SidebarTabKey); err != nil && !errors.Is(err, cache.ErrNotExist) {
		return fmt.Errorf("clear sidebar tab: %w", err)
	}
	return nil
}

func (s *Store) CitationsExpanded() bool {
	raw, err := s.store.Get(CitationsExpandedKey)
	if err != nil {
		return false
	}
	var expanded bool
	if err := json.Unmarshal(raw, &expanded); err != nil {
		return false
	}
	return expanded
}

func (s *Store) SetCitationsExpanded(expanded bool) error {
	raw, _ := json.Marshal(expanded)
	if err := s.store.Set(CitationsExpandedKey, raw); err != nil {
		return fmt.Errorf("save citations toggle: %w", err)
	}
	return nil
}

// ChatHistory returns the stored transcript. Corrupt transcripts read as
// empty and invalid messages are dropped.
func (s *Store) ChatHistory(owner, name string) []repo.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatHistoryLocked(owner, name)
}

func (s *Store) chatHistoryLocked(owner, name string) []repo.ChatMessage {
	key := ChatKey(owner, name)
	raw, err := s.store.Get(key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotExist) {
			slog.Warn("read chat history", slog.String("key", key), slog.Any("error", err))
		}
		return []repo.ChatMessage{}
	}
	var messages []repo.ChatMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		slog.Warn("corrupt chat history", slog.String("key", key), slog.Any("error", err))
		return []repo.ChatMessage{}
	}
	messages = repo.ValidChatMessages(messages)
	if messages == nil {
		messages = []repo.ChatMessage{}
	}
	return messages
}

// AppendChat stores msg at the end of the transcript, filling in a missing
// id or timestamp.
func (s *Store) AppendChat(owner, name string, msg repo.ChatMessage) (repo.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := append(s.chatHistoryLocked(owner, name), msg)
	raw, err := json.Marshal(messages)
	if err != nil {
		return repo.ChatMessage{}, fmt.Errorf("encode chat history: %w", err)
	}
	if err := s.store.Set(ChatKey(owner, name), raw); err != nil {
		return repo.ChatMessage{}, fmt.Errorf("save chat history: %w", err)
	}
	return msg, nil
}

func (s *Store) ClearChat(owner, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Delete(ChatKey(owner, name)); err != nil && !errors.Is(err, cache.ErrNotExist) {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}

// ClearAllChats removes every transcript and returns how many were removed.
func (s *Store) ClearAllChats() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.store.Keys(ChatPrefix)
	if err != nil {
		return 0, fmt.Errorf("list chat histories: %w", err)
	}
	var errs []error
	removed := 0
	for _, key := range keys {
		if err := s.store.Delete(key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Chatter answers questions about a repository. *api.Client implements it.
type Chatter interface {
	Chat(ctx context.Context, query string, contextSHAs []string) (api.ChatResponse, error)
}

// Ask records the question, sends it with the given commits as context and
// records the answer. A failed call keeps the question in the transcript.
func (s *Store) Ask(ctx context.Context, c Chatter, owner, name, query string, contextSHAs []string) (repo.ChatMessage, error) {
	if _, err := s.AppendChat(owner, name, repo.ChatMessage{Role: repo.RoleUser, Content: query}); err != nil {
		slog.Warn("chat history not saved", slog.Any("error", err))
	}
	resp, err := c.Chat(ctx, query, contextSHAs)
	if err != nil {
		return repo.ChatMessage{}, fmt.Errorf("chat: %w", err)
	}
	answer := repo.ChatMessage{
		Role:         repo.RoleAssistant,
		Content:      resp.Response,
		CitedCommits: resp.CitedCommits,
	}
	saved, err := s.AppendChat(owner, name, answer)
	if err != nil {
		slog.Warn("chat history not saved", slog.Any("error", err))
		answer.ID = s.newID()
		answer.Timestamp = s.now().UTC()
		return answer, nil
	}
	return saved, nil
}
