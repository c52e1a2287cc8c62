package display

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Icon has a Unicode glyph and an ASCII fallback
type Icon struct {
	Unicode string
	ASCII   string
	Color   Color
}

var icons = map[string]Icon{
	"success":     {Unicode: "✔", ASCII: "[OK]", Color: ColorGreen},
	"error":       {Unicode: "✖", ASCII: "[ERR]", Color: ColorRed},
	"warning":     {Unicode: "⚠", ASCII: "[WARN]", Color: ColorYellow},
	"info":        {Unicode: "ℹ", ASCII: "[INFO]", Color: ColorBlue},
	"backup":      {Unicode: "⬇", ASCII: "[B]", Color: ColorCyan},
	"restore":     {Unicode: "⬆", ASCII: "[R]", Color: ColorMagenta},
	"delete":      {Unicode: "✗", ASCII: "[D]", Color: ColorRed},
	"live":        {Unicode: "●", ASCII: "[LIVE]", Color: ColorGreen},
	"connecting":  {Unicode: "◌", ASCII: "[..]", Color: ColorBlue},
	"reconnect":   {Unicode: "↻", ASCII: "[RETRY]", Color: ColorYellow},
	"unavailable": {Unicode: "○", ASCII: "[DOWN]", Color: ColorRed},
	"idle":        {Unicode: "·", ASCII: "[IDLE]", Color: ColorWhite},
}

// IconSet renders icons with an ASCII fallback
type IconSet struct {
	enabled bool
	unicode bool
}

// NewIconSet creates an icon set. Disabled sets render nothing.
func NewIconSet(enabled bool) *IconSet {
	return &IconSet{enabled: enabled, unicode: detectUnicodeSupport()}
}

// SetUnicode overrides terminal detection
func (s *IconSet) SetUnicode(enabled bool) {
	s.unicode = enabled
}

func detectUnicodeSupport() bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	lang := os.Getenv("LC_ALL") + os.Getenv("LANG")
	if lang == "C" || lang == "CC" {
		return false
	}
	if term := os.Getenv("TERM"); term == "dumb" || term == "vt100" {
		return false
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	return lang == "" || strings.Contains(strings.ToUpper(lang), "UTF")
}

// Render returns the glyph for name, colored when colors is non-nil
func (s *IconSet) Render(name string, colors ColorSystem) string {
	if !s.enabled {
		return ""
	}
	icon, ok := icons[name]
	if !ok {
		return ""
	}
	text := icon.ASCII
	if s.unicode {
		text = icon.Unicode
	}
	if colors != nil {
		text = colors.Colorize(text, icon.Color)
	}
	return text
}
