package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tourapp-admin/internal/display"
	appErrors "tourapp-admin/internal/errors"
	"tourapp-admin/internal/functions"
)

var (
	syncAllDevices bool

	notifyBody     string
	notifyRole     string
	notifyDevice   string
	notifyPriority string
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Sign out or resynchronise mobile devices",
	Long: `Device actions are carried out by the backend functions configured under
functions.base_url. Each successful action is recorded in system_events.

Examples:
  tourapp-admin devices logout 7d1c0b2a
  tourapp-admin devices sync 7d1c0b2a
  tourapp-admin devices sync --all`,
}

var devicesLogoutCmd = &cobra.Command{
	Use:   "logout <device-id>",
	Short: "Force a device to sign out",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevicesLogout,
}

var devicesSyncCmd = &cobra.Command{
	Use:   "sync [device-id]",
	Short: "Ask one device, or every active device, to refresh its data",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDevicesSync,
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <user-id>",
	Short: "Delete a user account and its profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersDelete,
}

var notifyCmd = &cobra.Command{
	Use:   "notify <title>",
	Short: "Send a system notification to a role, a device or everyone",
	Long: `Send a push notification through the backend functions.

Examples:
  tourapp-admin notify "Bus delayed" --body="Departure moved to 09:30" --role=student
  tourapp-admin notify "Update required" --device=7d1c0b2a --priority=high`,
	Args: cobra.ExactArgs(1),
	RunE: runNotify,
}

func init() {
	devicesSyncCmd.Flags().BoolVar(&syncAllDevices, "all", false, "refresh every active device")

	notifyCmd.Flags().StringVar(&notifyBody, "body", "", "notification text")
	notifyCmd.Flags().StringVar(&notifyRole, "role", "", "only send to users with this role")
	notifyCmd.Flags().StringVar(&notifyDevice, "device", "", "only send to this device")
	notifyCmd.Flags().StringVar(&notifyPriority, "priority", "", "notification priority (normal or high)")
	notifyCmd.MarkFlagsMutuallyExclusive("role", "device")

	devicesCmd.AddCommand(devicesLogoutCmd)
	devicesCmd.AddCommand(devicesSyncCmd)
	usersCmd.AddCommand(usersDeleteCmd)
}

// functionsSession opens a session that requires the functions endpoint
func functionsSession(cmd *cobra.Command) (*session, error) {
	s, err := newSession(cmd)
	if err != nil {
		return nil, err
	}
	if s.app.Functions == nil {
		s.Close()
		return nil, appErrors.NewAppError(appErrors.ErrorTypeValidation,
			"functions.base_url is not configured, device and user actions are unavailable", nil)
	}
	return s, nil
}

// reportFunction prints the function reply in structured formats and a
// success line otherwise
func (s *session) reportFunction(resp functions.Response, message string) error {
	if s.printer.Format() == display.FormatJSON || s.printer.Format() == display.FormatYAML {
		return s.printer.Value(resp)
	}
	s.printer.Success(message)
	return nil
}

func runDevicesLogout(cmd *cobra.Command, args []string) error {
	s, err := functionsSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := s.app.Functions.ForceLogoutDevice(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return s.reportFunction(resp, fmt.Sprintf("Device %s signed out", args[0]))
}

func runDevicesSync(cmd *cobra.Command, args []string) error {
	if (len(args) == 1) == syncAllDevices {
		return fmt.Errorf("specify either a device id or --all")
	}

	s, err := functionsSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if syncAllDevices {
		resp, err := s.app.Functions.ForceSyncAllDevices(cmd.Context())
		if err != nil {
			return err
		}
		return s.reportFunction(resp, "Sync requested for all devices")
	}

	resp, err := s.app.Functions.ForceSyncDevice(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return s.reportFunction(resp, fmt.Sprintf("Sync requested for device %s", args[0]))
}

func runUsersDelete(cmd *cobra.Command, args []string) error {
	s, err := functionsSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	approved, err := s.confirmer(cmd).ConfirmUserDeletion(args[0], autoApprove)
	if err != nil {
		return err
	}
	if !approved {
		s.printer.Info("Delete cancelled")
		return nil
	}

	resp, err := s.app.Functions.DeleteUser(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return s.reportFunction(resp, fmt.Sprintf("User %s deleted", args[0]))
}

func runNotify(cmd *cobra.Command, args []string) error {
	s, err := functionsSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := s.app.Functions.SendSystemNotification(cmd.Context(), functions.Notification{
		Title:          args[0],
		Body:           notifyBody,
		TargetUserRole: notifyRole,
		TargetDeviceID: notifyDevice,
		Priority:       notifyPriority,
	})
	if err != nil {
		return err
	}
	return s.reportFunction(resp, fmt.Sprintf("Notification %q sent", args[0]))
}
