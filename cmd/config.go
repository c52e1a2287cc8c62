package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tourapp-admin/internal/config"
	"tourapp-admin/internal/display"
)

var (
	configForce bool
	configCheck bool
)

// createConfigCommand creates the config command and its subcommands
func createConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create, inspect and validate the configuration",
		Long: `Settings are read from the file given with --config, or from
$HOME/.tourapp-admin.yaml, and can be overridden with TOURAPP_* environment
variables such as TOURAPP_SERVER_AUTH_TOKEN.

Examples:
  # Write a commented template to the default location
  tourapp-admin config init

  # Check the file and try every configured backend
  tourapp-admin config validate --check

  # Show the effective configuration with secrets masked
  tourapp-admin config show`,
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented configuration template",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}
	initCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file, keeping a .backup copy")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigValidate,
	}
	validateCmd.Flags().BoolVar(&configCheck, "check", false, "also connect to every configured backend")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "List the supported environment variables",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(config.EnvironmentVariables(), "\n"))
		},
	}

	configCmd.AddCommand(initCmd, validateCmd, showCmd, envCmd)
	return configCmd
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	path := config.DefaultPath()
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.WriteTemplate(path, configForce); err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("Configuration template written to %s", path))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	printer := display.NewPrinter(cfg.Display, cmd.OutOrStdout())

	if !configCheck {
		if err := cfg.Validate(); err != nil {
			return err
		}
		printer.Success("Configuration is valid")
		return nil
	}

	result := config.NewInitializer(cfg, nil).RunHealthCheck(cmd.Context())
	if printer.Format() == display.FormatJSON || printer.Format() == display.FormatYAML {
		if err := printer.Value(result); err != nil {
			return err
		}
	} else {
		status := make(map[string]interface{}, len(result.ComponentStatus))
		for component, state := range result.ComponentStatus {
			status[component] = state
		}
		if err := printer.Settings(status); err != nil {
			return err
		}
		for _, issue := range result.Issues {
			printer.Warning(issue)
		}
		for _, rec := range result.Recommendations {
			printer.Info(rec)
		}
	}

	if result.OverallHealth == config.StatusUnhealthy {
		return fmt.Errorf("health check failed: %d issue(s)", len(result.Issues))
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := cfg.Dump()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
