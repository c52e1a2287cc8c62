package display

import (
	"fmt"
	"strings"
)

// OutputFormat selects how command results are printed
type OutputFormat string

const (
	FormatTable   OutputFormat = "table"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCompact OutputFormat = "compact"
)

// ThemeName represents available color themes
type ThemeName string

const (
	ThemeDark         ThemeName = "dark"
	ThemeLight        ThemeName = "light"
	ThemeHighContrast ThemeName = "high-contrast"
	ThemeAuto         ThemeName = "auto"
)

// DisplayConfig holds the terminal output options
type DisplayConfig struct {
	ColorEnabled    bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme           string `mapstructure:"theme" yaml:"theme"`
	OutputFormat    string `mapstructure:"output_format" yaml:"output_format"`
	UseIcons        bool   `mapstructure:"use_icons" yaml:"use_icons"`
	InteractiveMode bool   `mapstructure:"interactive" yaml:"interactive"`
	TableStyle      string `mapstructure:"table_style" yaml:"table_style"`
	MaxTableWidth   int    `mapstructure:"max_table_width" yaml:"max_table_width"`
}

// DefaultDisplayConfig returns a default display configuration
func DefaultDisplayConfig() *DisplayConfig {
	return &DisplayConfig{
		ColorEnabled:    true,
		Theme:           string(ThemeDark),
		OutputFormat:    string(FormatTable),
		UseIcons:        true,
		InteractiveMode: true,
		TableStyle:      string(TableStyleDefault),
		MaxTableWidth:   120,
	}
}

// SetDefaults fills unset string and width options. Booleans are left alone
// because false is a valid choice.
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = string(ThemeDark)
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatTable)
	}
	if dc.TableStyle == "" {
		dc.TableStyle = string(TableStyleDefault)
	}
	if dc.MaxTableWidth == 0 {
		dc.MaxTableWidth = 120
	}
}

// Validate validates the display configuration
func (dc *DisplayConfig) Validate() error {
	var errs []string

	validThemes := []string{string(ThemeDark), string(ThemeLight), string(ThemeHighContrast), string(ThemeAuto)}
	if !contains(validThemes, dc.Theme) {
		errs = append(errs, fmt.Sprintf("invalid theme '%s', must be one of: %s", dc.Theme, strings.Join(validThemes, ", ")))
	}

	validFormats := []string{string(FormatTable), string(FormatJSON), string(FormatYAML), string(FormatCompact)}
	if !contains(validFormats, dc.OutputFormat) {
		errs = append(errs, fmt.Sprintf("invalid output format '%s', must be one of: %s", dc.OutputFormat, strings.Join(validFormats, ", ")))
	}

	validStyles := []string{string(TableStyleDefault), string(TableStyleRounded), string(TableStyleBorder), string(TableStyleMinimal)}
	if !contains(validStyles, dc.TableStyle) {
		errs = append(errs, fmt.Sprintf("invalid table style '%s', must be one of: %s", dc.TableStyle, strings.Join(validStyles, ", ")))
	}

	if dc.MaxTableWidth < 40 || dc.MaxTableWidth > 300 {
		errs = append(errs, fmt.Sprintf("max table width must be between 40 and 300, got %d", dc.MaxTableWidth))
	}

	if len(errs) > 0 {
		return fmt.Errorf("display configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetColorTheme returns the ColorTheme based on the theme name
func (dc *DisplayConfig) GetColorTheme() ColorTheme {
	return GetThemeByName(dc.Theme)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
