package render

import (
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	darkmode "github.com/thiagokokada/dark-mode-go"
)

type ThemePreference int

const (
	ThemeAuto ThemePreference = iota
	ThemeLight
	ThemeDark
)

func (p ThemePreference) String() string {
	switch p {
	case ThemeLight:
		return "light"
	case ThemeDark:
		return "dark"
	default:
		return "auto"
	}
}

func ThemePreferenceFromString(raw string) ThemePreference {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ThemeDark.String():
		return ThemeDark
	case ThemeLight.String():
		return ThemeLight
	default:
		return ThemeAuto
	}
}

type palette struct {
	Name string
	// Chroma is the syntax highlighting style name.
	Chroma     string
	SHA        lipgloss.Color
	Highlight  lipgloss.Color
	Muted      lipgloss.Color
	DiffAdd    lipgloss.Color
	DiffDel    lipgloss.Color
	DiffHeader lipgloss.Color
}

var (
	lightPalette = palette{
		Name:       "light",
		Chroma:     "github",
		SHA:        lipgloss.Color("#9a6700"),
		Highlight:  lipgloss.Color("#0969da"),
		Muted:      lipgloss.Color("#6e7781"),
		DiffAdd:    lipgloss.Color("#1a7f37"),
		DiffDel:    lipgloss.Color("#cf222e"),
		DiffHeader: lipgloss.Color("#8250df"),
	}
	darkPalette = palette{
		Name:       "dark",
		Chroma:     "github-dark",
		SHA:        lipgloss.Color("#d29922"),
		Highlight:  lipgloss.Color("#58a6ff"),
		Muted:      lipgloss.Color("#8b949e"),
		DiffAdd:    lipgloss.Color("#3fb950"),
		DiffDel:    lipgloss.Color("#f85149"),
		DiffHeader: lipgloss.Color("#bc8cff"),
	}
	detectDarkMode = darkmode.IsDarkMode
)

func paletteForPreference(pref ThemePreference) palette {
	switch pref {
	case ThemeDark:
		return darkPalette
	case ThemeLight:
		return lightPalette
	default:
		if detectDarkMode != nil {
			if dark, err := detectDarkMode(); err == nil {
				if dark {
					return darkPalette
				}
			} else {
				slog.Debug("detect dark-mode", slog.Any("error", err))
			}
		}
		return lightPalette
	}
}
