package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API, dashboard feed and backup scheduler",
	Long: `Start the admin console. serve subscribes to every watched collection,
mirrors the changes into the cache and the dashboard websocket, runs the
automatic backup and retention schedule from backupSettings and exposes the
admin API until interrupted.

Examples:
  tourapp-admin serve
  tourapp-admin serve --addr=127.0.0.1:9000 --log-file=/var/log/tourapp-admin.log`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	s.printer.Info(fmt.Sprintf("Admin console listening on %s", s.cfg.Server.Addr))
	return s.app.Serve(cmd.Context())
}
