package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tourapp-admin/internal/application"
	"tourapp-admin/internal/config"
	"tourapp-admin/internal/confirmation"
	"tourapp-admin/internal/display"
)

var cfgFile string

// Global flag variables
var (
	verbose     bool
	quiet       bool
	autoApprove bool
	logFile     string
	actor       string

	// Display flags
	noColor       bool
	theme         string
	outputFormat  string
	noIcons       bool
	noInteractive bool
	tableStyle    string
)

// appOptions are passed to every Application built by a command. Tests use
// it to share in-memory stores between invocations.
var appOptions []application.Option

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tourapp-admin",
	Short: "Administer the TourApp backend: backups, settings, devices and live sync",
	Long: `tourapp-admin is the operator console of the TourApp backend. It mirrors the
live collections into a cache, feeds the browser dashboard, takes and restores
backups, applies the retention policy and edits the shared system settings.

Examples:
  # Run the admin API, dashboard feed and backup scheduler
  tourapp-admin serve --config=/etc/tourapp/admin.yaml

  # Take a users backup as CSV
  tourapp-admin backup create --type=users --payload-format=csv

  # Restore a stored backup without a prompt
  tourapp-admin backup restore 3f2c9a1e --yes

  # List backups as JSON for scripting
  tourapp-admin backup list --format=json --no-color

  # Change how long backups are kept
  tourapp-admin settings set backupSettings.retentionDays 14`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		application.ReportError(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tourapp-admin.yaml)")

	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only log errors")
	flags.BoolVarP(&autoApprove, "yes", "y", false, "approve restores and deletions without a prompt")
	flags.StringVar(&logFile, "log-file", "", "write logs to file instead of stderr")
	flags.StringVar(&actor, "actor", "Admin", "name recorded as the author of backups and settings changes")

	flags.BoolVar(&noColor, "no-color", false, "disable color output")
	flags.StringVar(&theme, "theme", "dark", "color theme (dark, light, high-contrast, auto)")
	flags.StringVar(&outputFormat, "format", "table", "output format (table, json, yaml, compact)")
	flags.BoolVar(&noIcons, "no-icons", false, "disable Unicode icons")
	flags.BoolVar(&noInteractive, "no-interactive", false, "disable interactive prompts")
	flags.StringVar(&tableStyle, "table-style", "default", "table style (default, rounded, border, minimal)")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(createConfigCommand())
	rootCmd.AddCommand(createVersionCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	v := viper.GetViper()
	config.Setup(v, cfgFile)

	// Only non-inverted flags are bound; the inverted ones are applied in loadConfig
	flags := rootCmd.PersistentFlags()
	v.BindPFlag("display.theme", flags.Lookup("theme"))
	v.BindPFlag("display.output_format", flags.Lookup("format"))
	v.BindPFlag("display.table_style", flags.Lookup("table-style"))
	v.BindPFlag("logging.file", flags.Lookup("log-file"))
	v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	if err := config.ReadInConfig(v); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// loadConfig decodes the merged file, environment and flag configuration
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	switch {
	case verbose:
		cfg.Logging.Level = "verbose"
	case quiet:
		cfg.Logging.Level = "quiet"
	}

	if cmd.Flags().Changed("no-color") {
		cfg.Display.ColorEnabled = !noColor
	}
	if cmd.Flags().Changed("no-icons") {
		cfg.Display.UseIcons = !noIcons
	}
	if noInteractive || !inputIsTerminal(cmd) {
		cfg.Display.InteractiveMode = false
	}
	if cfg.Functions.Actor == "" || cmd.Flags().Changed("actor") {
		cfg.Functions.Actor = actor
	}
	return cfg, nil
}

// inputIsTerminal reports whether prompts can be answered. Readers other
// than a file, such as a test buffer, always count as interactive.
func inputIsTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		return true
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// session bundles what a command needs to talk to the backend
type session struct {
	cfg     *config.Config
	app     *application.Application
	printer *display.Printer
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	app, err := application.New(cmd.Context(), cfg, appOptions...)
	if err != nil {
		return nil, err
	}
	return &session{
		cfg:     cfg,
		app:     app,
		printer: display.NewPrinter(cfg.Display, cmd.OutOrStdout()),
	}, nil
}

func (s *session) confirmer(cmd *cobra.Command) confirmation.ConfirmationService {
	return confirmation.NewConfirmationService(cmd.InOrStdin(), cmd.OutOrStdout(), s.printer.Colors(), s.cfg.Display.InteractiveMode)
}

func (s *session) Close() {
	if err := s.app.Close(); err != nil {
		s.app.Logger.WithField("error", err.Error()).Warn("Failed to release resources")
	}
}

// newPrinter builds a printer for commands that do not open the backend
func newPrinter(cmd *cobra.Command) (*display.Printer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Display.Validate(); err != nil {
		return nil, err
	}
	return display.NewPrinter(cfg.Display, cmd.OutOrStdout()), nil
}

// Version information
var (
	appVersion   = "dev"
	appBuildTime = "unknown"
	appGitCommit = "unknown"
	appGoVersion = "unknown"
)

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(version, buildTime, gitCommit, goVersion string) {
	appVersion = version
	appBuildTime = buildTime
	appGitCommit = gitCommit
	appGoVersion = goVersion
	rootCmd.Version = version
}

// createVersionCommand creates the version command
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tourapp-admin version %s\n", appVersion)
			fmt.Fprintf(out, "Build time: %s\n", appBuildTime)
			fmt.Fprintf(out, "Git commit: %s\n", appGitCommit)
			fmt.Fprintf(out, "Go version: %s\n", appGoVersion)
		},
	}
}
