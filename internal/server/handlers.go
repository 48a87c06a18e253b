package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/thiagokokada/gitodyssey/internal/api"
	"github.com/thiagokokada/gitodyssey/internal/buildinfo"
	"github.com/thiagokokada/gitodyssey/internal/explorer"
	"github.com/thiagokokada/gitodyssey/internal/filter"
	"github.com/thiagokokada/gitodyssey/internal/layout"
	"github.com/thiagokokada/gitodyssey/internal/loader"
	"github.com/thiagokokada/gitodyssey/internal/prefs"
	"github.com/thiagokokada/gitodyssey/internal/repo"
)

const sessionKey = "session"

type ErrorResponse struct {
	Error string `json:"error"`
	// View is the session state after the failure, when there is one.
	View *explorer.View `json:"view,omitempty"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type filtersRequest struct {
	filter.Criteria
	// Debounce delays the filter like typing in the filter form does.
	Debounce bool `json:"debounce"`
}

type directionRequest struct {
	// Direction is TB or LR; empty toggles.
	Direction string `json:"direction"`
}

type nodesRequest struct {
	Changes []explorer.NodeChange `json:"changes" binding:"dive"`
}

type focusRequest struct {
	SHA string `json:"sha" binding:"required"`
}

type chatRequest struct {
	Query       string   `json:"query" binding:"required"`
	ContextSHAs []string `json:"contextShas"`
}

type tabRequest struct {
	Tab string `json:"tab" binding:"required"`
}

type toggleRequest struct {
	Expanded bool `json:"expanded"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var netErr *api.NetworkError
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, explorer.ErrUnknownCommit):
		return http.StatusNotFound
	case errors.Is(err, explorer.ErrStale):
		return http.StatusConflict
	case errors.Is(err, explorer.ErrNoSearcher):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.As(err, &netErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error, view *explorer.View) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Warn("request failed", slog.String("path", c.Request.URL.Path), slog.Any("error", err))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), View: view})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}

func (s *Server) requireSession(c *gin.Context) {
	sess := s.Session(c.Param("owner"), c.Param("repo"))
	if sess == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "unknown repository"})
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}

func session(c *gin.Context) *explorer.Session {
	return c.MustGet(sessionKey).(*explorer.Session)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": buildinfo.Version()})
}

// ensureLoaded mounts the session, waiting for a load another request
// already started. A failed load is retried.
func ensureLoaded(ctx context.Context, sess *explorer.Session) (explorer.View, error) {
	if sess.Snapshot().State == loader.Failed.String() {
		return sess.Load(ctx)
	}
	return sess.Mount(ctx)
}

func (s *Server) getGraph(c *gin.Context) {
	sess := session(c)
	var criteria filter.Criteria
	if err := c.ShouldBindQuery(&criteria); err != nil {
		badRequest(c, err)
		return
	}
	var dir layout.Direction
	if raw := c.Query("direction"); raw != "" {
		parsed, err := layout.ParseDirection(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		dir = parsed
	}

	v, err := ensureLoaded(c.Request.Context(), sess)
	if err != nil {
		abortWithError(c, err, &v)
		return
	}
	if dir != "" {
		if v, err = sess.SetDirection(dir); err != nil {
			abortWithError(c, err, &v)
			return
		}
	}
	if filter.HasActiveFilters(criteria) {
		v = sess.ApplyFilters(criteria)
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) refresh(c *gin.Context) {
	v, err := session(c).Refresh(c.Request.Context())
	if err != nil {
		abortWithError(c, err, &v)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) postFilters(c *gin.Context) {
	var req filtersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess := session(c)
	if req.Debounce {
		sess.ScheduleFilters(req.Criteria)
		c.JSON(http.StatusAccepted, sess.Snapshot())
		return
	}
	c.JSON(http.StatusOK, sess.ApplyFilters(req.Criteria))
}

func (s *Server) postSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := session(c).ApplySearch(c.Request.Context(), req.Query)
	if err != nil {
		abortWithError(c, err, &v)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) postClear(c *gin.Context) {
	c.JSON(http.StatusOK, session(c).ClearFilters())
}

func (s *Server) postDirection(c *gin.Context) {
	var req directionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	sess := session(c)
	var (
		v   explorer.View
		err error
	)
	if strings.TrimSpace(req.Direction) == "" {
		v, err = sess.ToggleDirection()
	} else {
		dir, perr := layout.ParseDirection(req.Direction)
		if perr != nil {
			badRequest(c, perr)
			return
		}
		v, err = sess.SetDirection(dir)
	}
	if err != nil {
		abortWithError(c, err, &v)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) postNodes(c *gin.Context) {
	var req nodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, session(c).ApplyNodeChanges(req.Changes))
}

func (s *Server) postFocus(c *gin.Context) {
	var req focusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := session(c).FocusCommit(req.SHA)
	if err != nil {
		abortWithError(c, err, &v)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) getCommit(c *gin.Context) {
	commit, ok := session(c).Commit(c.Param("sha"))
	if !ok {
		abortWithError(c, explorer.ErrUnknownCommit, nil)
		return
	}
	c.JSON(http.StatusOK, commit)
}

func (s *Server) postSummary(c *gin.Context) {
	if s.summarizer == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, ErrorResponse{Error: "summaries are not available"})
		return
	}
	sess := session(c)
	sha := c.Param("sha")
	if _, ok := sess.Commit(sha); !ok {
		abortWithError(c, explorer.ErrUnknownCommit, nil)
		return
	}
	summary, err := s.summarizer.SummarizeCommit(c.Request.Context(), sha)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	sess.UpdateSummary(sha, summary)
	c.JSON(http.StatusOK, gin.H{"sha": sha, "summary": summary})
}

func (s *Server) getChat(c *gin.Context) {
	c.JSON(http.StatusOK, s.prefs.ChatHistory(c.Param("owner"), c.Param("repo")))
}

func (s *Server) postChat(c *gin.Context) {
	if s.chatter == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, ErrorResponse{Error: "chat is not available"})
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	answer, err := s.prefs.Ask(c.Request.Context(), s.chatter, c.Param("owner"), c.Param("repo"), req.Query, req.ContextSHAs)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (s *Server) deleteChat(c *gin.Context) {
	if err := s.prefs.ClearChat(c.Param("owner"), c.Param("repo")); err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getSidebarTab(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tab": s.prefs.SidebarTab()})
}

func (s *Server) putSidebarTab(c *gin.Context) {
	var req tabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tab, err := prefs.ParseTab(req.Tab)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := s.prefs.SetSidebarTab(tab); err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tab": tab})
}

func (s *Server) getCitationsExpanded(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"expanded": s.prefs.CitationsExpanded()})
}

func (s *Server) putCitationsExpanded(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.prefs.SetCitationsExpanded(req.Expanded); err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expanded": req.Expanded})
}
