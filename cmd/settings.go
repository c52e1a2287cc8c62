package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tourapp-admin/internal/display"
	"tourapp-admin/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and edit the shared system settings",
	Long: `The settings/system document is read by the mobile app and the console.
Keys are dotted paths such as backupSettings.retentionDays; every key is typed
and bounded, and unknown keys are rejected.

Examples:
  tourapp-admin settings show
  tourapp-admin settings set backupSettings.autoBackup true
  tourapp-admin settings set backupSettings.backupFrequency daily
  tourapp-admin settings keys`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current settings, defaults filled in",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore every setting to its default",
	Args:  cobra.NoArgs,
	RunE:  runSettingsReset,
}

var settingsKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the editable keys with their type and bounds",
	Args:  cobra.NoArgs,
	RunE:  runSettingsKeys,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsResetCmd)
	settingsCmd.AddCommand(settingsKeysCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	doc, err := s.app.Settings.Load(cmd.Context())
	if err != nil {
		return err
	}
	return s.printer.Settings(settings.Flatten(doc))
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	value, err := s.app.Settings.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if s.printer.Format() == display.FormatJSON || s.printer.Format() == display.FormatYAML {
		return s.printer.Value(map[string]interface{}{args[0]: value})
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.app.Settings.Set(cmd.Context(), args[0], args[1], s.cfg.Functions.Actor); err != nil {
		return err
	}
	s.printer.Success(fmt.Sprintf("%s updated", args[0]))
	return nil
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.app.Settings.Reset(cmd.Context(), s.cfg.Functions.Actor); err != nil {
		return err
	}
	s.printer.Success("Settings restored to defaults")
	return nil
}

func runSettingsKeys(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	keys := make(map[string]interface{}, len(settings.Schema))
	for _, f := range settings.Schema {
		keys[f.Key] = describeField(f)
	}
	return printer.Settings(keys)
}

func describeField(f settings.Field) string {
	var b strings.Builder
	b.WriteString(string(f.Kind))
	switch f.Kind {
	case settings.KindInt:
		fmt.Fprintf(&b, " %d..%d", f.Min, f.Max)
	case settings.KindEnum:
		fmt.Fprintf(&b, " (%s)", strings.Join(f.Options, ", "))
	}
	fmt.Fprintf(&b, ", default %v", f.Default)
	if f.Description != "" {
		fmt.Fprintf(&b, ", %s", f.Description)
	}
	return b.String()
}
