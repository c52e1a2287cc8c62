package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"tourapp-admin/internal/display"
	"tourapp-admin/internal/realtime"
)

var syncWait time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect the live collection subscriptions",
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Subscribe to every watched collection and report its health",
	Long: `Open one subscription per watched collection, wait until each is live or has
given up, then print the subscription states, the number of cached
documents per collection and the device presence summary.`,
	Args: cobra.NoArgs,
	RunE: runSyncStatus,
}

func init() {
	syncStatusCmd.Flags().DurationVar(&syncWait, "wait", 10*time.Second, "how long to wait for the subscriptions to settle")
	syncCmd.AddCommand(syncStatusCmd)
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if err := s.app.StartSync(ctx); err != nil {
		return err
	}

	deadline := time.NewTimer(syncWait)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

wait:
	for !settled(s.app.Registry, s.cfg.Sync.Collections) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			s.printer.Warning("Some collections did not settle before --wait elapsed")
			break wait
		case <-ticker.C:
		}
	}

	health := s.app.Registry.AllHealth()
	counts, err := s.app.Cache.Stats(ctx, s.cfg.Sync.Collections...)
	if err != nil {
		return err
	}

	presence := s.app.Presence.Summary()

	if s.printer.Format() == display.FormatJSON || s.printer.Format() == display.FormatYAML {
		return s.printer.Value(map[string]interface{}{
			"connected": s.app.Registry.IsConnected(),
			"health":    health,
			"documents": counts,
			"devices":   presence,
		})
	}
	if err := s.printer.SyncHealth(health); err != nil {
		return err
	}
	if err := s.printer.Counts(counts); err != nil {
		return err
	}
	if h, ok := s.app.Registry.Health(realtime.DevicesCollection); !ok || h.State != realtime.StateLive {
		return nil
	}
	return s.printer.Presence(presence)
}

// settled reports whether every collection is live or has stopped retrying
func settled(registry *realtime.Registry, collections []string) bool {
	for _, collection := range collections {
		h, _ := registry.Health(collection)
		if h.State != realtime.StateLive && h.State != realtime.StateUnavailable {
			return false
		}
	}
	return true
}
