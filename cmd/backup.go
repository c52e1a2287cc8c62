package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/display"
)

var (
	// Backup creation flags
	createType         string
	createFormat       string
	createIncludeMedia bool

	// Backup listing flags
	listLimit int

	// Download, restore and key flags
	downloadOutput string
	restoreFile    string
	sweepDryRun    bool
	keygenOutput   string
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list, restore and delete backups",
	Long: `Manage backups of the TourApp collections.

A backup snapshots the selected collections into one payload file in the
configured storage and records it in the backups collection. Only one backup,
restore or sweep runs at a time; a request made while another is running, or
within the cooldown after the last backup, is skipped.

Examples:
  # Full backup including the media file listing
  tourapp-admin backup create --type=full --include-media

  # Users export for a spreadsheet
  tourapp-admin backup create --type=users --payload-format=csv

  # Restore from a downloaded file
  tourapp-admin backup restore --file=./full_2024-03-15.json

  # Apply the retention policy now
  tourapp-admin backup sweep`,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Take a new backup",
	Args:  cobra.NoArgs,
	RunE:  runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent backups, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupShowCmd = &cobra.Command{
	Use:   "show <backup-id>",
	Short: "Show one backup record",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupShow,
}

var backupDownloadCmd = &cobra.Command{
	Use:   "download <backup-id>",
	Short: "Save a backup payload to a local file",
	Long: `Download a stored backup. Compressed and encrypted payloads are decoded, so
the file is always plain JSON or CSV. Use --output=- to write to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupDownload,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [backup-id]",
	Short: "Restore a stored backup or a backup file",
	Long: `Restore writes every document of the backup back to its collection, replacing
documents with the same id. Documents created after the backup are kept.
Either a stored backup id or --file must be given. CSV backups cannot be
restored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackupRestore,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <backup-id>",
	Short: "Delete a backup record and its file",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupDelete,
}

var backupSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete backups outside the retention policy",
	Long: `Apply backupSettings.retentionDays and backupSettings.retentionLimit: every
backup older than the age limit and every backup beyond the newest retained
ones is deleted. --dry-run only lists them.`,
	Args: cobra.NoArgs,
	RunE: runBackupSweep,
}

var backupKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a backup encryption key",
	Long: `Generate a random AES-256 key. With --output the raw key is written to a file
readable only by its owner (encryption.key_source: file); otherwise the key
is printed hex encoded for use in the key environment variable.`,
	Args: cobra.NoArgs,
	RunE: runBackupKeygen,
}

func init() {
	backupCreateCmd.Flags().StringVarP(&createType, "type", "t", "", "backup type: full, users, messages, locations or settings (default from backupSettings)")
	backupCreateCmd.Flags().StringVar(&createFormat, "payload-format", "", "payload format: json or csv (default from backupSettings)")
	backupCreateCmd.Flags().BoolVar(&createIncludeMedia, "include-media", false, "list stored media files in full backups")

	backupListCmd.Flags().IntVarP(&listLimit, "limit", "n", backup.DefaultHistory, "maximum number of backups to show")

	backupDownloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "destination file (default is the backup filename)")

	backupRestoreCmd.Flags().StringVarP(&restoreFile, "file", "f", "", "restore from a local backup file")

	backupSweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "list the backups that would be deleted")

	backupKeygenCmd.Flags().StringVarP(&keygenOutput, "output", "o", "", "write the raw key to this file")

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupShowCmd)
	backupCmd.AddCommand(backupDownloadCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	backupCmd.AddCommand(backupSweepCmd)
	backupCmd.AddCommand(backupKeygenCmd)
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	policy, err := s.app.Settings.RetentionPolicy(ctx)
	if err != nil {
		return err
	}

	// the stored default format only applies where the type supports it;
	// an explicit --format is passed through and validated as given
	if createType != "" {
		policy.DefaultBackupType = backup.BackupType(createType)
	}
	opts := policy.BackupOptions(s.cfg.Functions.Actor)
	opts.IncludeMedia = createIncludeMedia
	if createFormat != "" {
		opts.Format = backup.Format(createFormat)
	}

	result, err := s.app.Manager.CreateBackup(ctx, opts)
	if err != nil {
		return err
	}
	if result.Skipped {
		s.printer.Warning(fmt.Sprintf("Backup skipped: %v", result.Reason))
		return nil
	}

	if err := s.printer.Backup(result.Record); err != nil {
		return err
	}
	if s.printer.Format() == display.FormatTable {
		s.printer.Success(fmt.Sprintf("Backup %s created", result.Record.ID))
	}
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.app.Manager.ListBackups(cmd.Context(), listLimit)
	if err != nil {
		return err
	}
	return s.printer.Backups(records)
}

func runBackupShow(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	record, err := s.app.Manager.GetBackup(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return s.printer.Backup(record)
}

func runBackupDownload(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	record, data, err := s.app.Manager.Download(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if downloadOutput == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	path := downloadOutput
	if path == "" {
		path = plainFilename(record)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.printer.Success(fmt.Sprintf("Saved backup %s to %s (%s)", record.ID, path, display.FormatBytes(int64(len(data)))))
	return nil
}

// plainFilename drops the compression and encryption suffixes of a stored
// filename, since downloads are decoded
func plainFilename(record *backup.BackupRecord) string {
	name := filepath.Base(record.Filename)
	want := "." + string(record.Format)
	for ext := filepath.Ext(name); ext != "" && ext != want; ext = filepath.Ext(name) {
		name = name[:len(name)-len(ext)]
	}
	if filepath.Ext(name) != want {
		name += want
	}
	return name
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	if (len(args) == 1) == (restoreFile != "") {
		return fmt.Errorf("specify either a backup id or --file")
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	var (
		payload *backup.Payload
		source  string
	)
	if restoreFile != "" {
		f, err := os.Open(restoreFile)
		if err != nil {
			return fmt.Errorf("failed to open backup file: %w", err)
		}
		payload, err = s.app.Manager.ReadPayload(f)
		f.Close()
		if err != nil {
			return err
		}
		source = fmt.Sprintf("file %s", restoreFile)
	} else {
		payload, err = s.app.Manager.LoadPayload(ctx, args[0])
		if err != nil {
			return err
		}
		source = fmt.Sprintf("backup %s", args[0])
	}

	approved, err := s.confirmer(cmd).ConfirmRestore(source, payload, autoApprove)
	if err != nil {
		return err
	}
	if !approved {
		s.printer.Info("Restore cancelled")
		return nil
	}

	result, err := s.app.Manager.Restore(ctx, payload)
	if err != nil {
		return err
	}
	if result.Skipped {
		s.printer.Warning(fmt.Sprintf("Restore skipped: %v", result.Reason))
		return nil
	}
	return s.printer.Restore(result)
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	record, err := s.app.Manager.GetBackup(ctx, args[0])
	if err != nil {
		return err
	}

	approved, err := s.confirmer(cmd).ConfirmDelete(record, autoApprove)
	if err != nil {
		return err
	}
	if !approved {
		s.printer.Info("Delete cancelled")
		return nil
	}

	err = s.app.Manager.DeleteBackup(ctx, record.ID)
	if backup.IsErrorType(err, backup.ErrorTypePartialCleanupFailure) {
		s.printer.Warning(fmt.Sprintf("Backup %s deleted, but its file was left in storage: %v", record.ID, err))
		return nil
	}
	if err != nil {
		return err
	}
	s.printer.Success(fmt.Sprintf("Backup %s deleted", record.ID))
	return nil
}

func runBackupSweep(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	policy, err := s.app.Settings.RetentionPolicy(ctx)
	if err != nil {
		return err
	}

	if sweepDryRun {
		candidates, err := s.app.Sweeper.Candidates(ctx, policy)
		if err != nil {
			return err
		}
		if len(candidates) == 0 && s.printer.Format() == display.FormatTable {
			s.printer.Info("Retention sweep would delete nothing")
			return nil
		}
		return s.printer.Backups(candidates)
	}

	result, err := s.app.Sweeper.Sweep(ctx, policy)
	if err != nil {
		return err
	}
	return s.printer.Sweep(result)
}

func runBackupKeygen(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	key, err := backup.GenerateKey()
	if err != nil {
		return err
	}

	if keygenOutput == "" {
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
		return nil
	}
	if err := backup.SaveKeyToFile(key, keygenOutput); err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("Encryption key written to %s", keygenOutput))
	return nil
}
