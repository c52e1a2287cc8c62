// Package confirmation prompts the operator before destructive backup
// operations.
package confirmation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/display"
)

var (
	// ErrNotInteractive is returned when a prompt is needed but prompts are disabled
	ErrNotInteractive = errors.New("confirmation required: rerun with --yes to proceed without a prompt")
	// ErrInterrupted is returned when the prompt is interrupted by a signal
	ErrInterrupted = errors.New("operation cancelled by user")
)

// ConfirmationService asks the operator to approve restores and deletions
type ConfirmationService interface {
	ConfirmRestore(source string, payload *backup.Payload, autoApprove bool) (bool, error)
	ConfirmDelete(record *backup.BackupRecord, autoApprove bool) (bool, error)
	ConfirmUserDeletion(userID string, autoApprove bool) (bool, error)
}

type confirmationService struct {
	reader      *bufio.Reader
	out         io.Writer
	colors      display.ColorSystem
	interactive bool
}

// NewConfirmationService creates a service reading answers from in
func NewConfirmationService(in io.Reader, out io.Writer, colors display.ColorSystem, interactive bool) ConfirmationService {
	if colors == nil {
		colors = display.NewColorSystem(display.DarkColorTheme(), false)
	}
	return &confirmationService{
		reader:      bufio.NewReader(in),
		out:         out,
		colors:      colors,
		interactive: interactive,
	}
}

// ConfirmRestore shows what a restore would overwrite and asks for approval
func (cs *confirmationService) ConfirmRestore(source string, payload *backup.Payload, autoApprove bool) (bool, error) {
	theme := cs.colors.Theme()

	fmt.Fprintln(cs.out, cs.colors.Colorize("RESTORE OVERWRITES LIVE DATA", theme.Warning))
	fmt.Fprintln(cs.out, strings.Repeat("=", 50))
	fmt.Fprintf(cs.out, "Source: %s\n", source)
	if payload.Metadata != nil {
		fmt.Fprintf(cs.out, "Backup: %s taken %s by %s\n",
			payload.Metadata.BackupType, payload.Metadata.Timestamp, orUnknown(payload.Metadata.CreatedBy))
	}

	counts := payload.RestorableCounts()
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	total := 0
	for _, name := range names {
		fmt.Fprintf(cs.out, "  %-10s %d document(s)\n", name, counts[name])
		total += counts[name]
	}
	fmt.Fprintf(cs.out, "Documents with matching ids will be replaced (%d total).\n\n", total)

	return cs.confirm("Restore this backup?", autoApprove)
}

// ConfirmDelete asks before a backup record and its file are removed
func (cs *confirmationService) ConfirmDelete(record *backup.BackupRecord, autoApprove bool) (bool, error) {
	fmt.Fprintf(cs.out, "Backup %s (%s, %s, created %s by %s)\n",
		record.ID, record.BackupType, display.FormatBytes(record.SizeBytes),
		record.CreatedAt.Local().Format("2006-01-02 15:04"), orUnknown(record.CreatedBy))
	return cs.confirm("Delete this backup permanently?", autoApprove)
}

// ConfirmUserDeletion asks before a user account and its profile are removed
func (cs *confirmationService) ConfirmUserDeletion(userID string, autoApprove bool) (bool, error) {
	fmt.Fprintf(cs.out, "User %s will be signed out and its account and profile removed.\n", userID)
	return cs.confirm("Delete this user permanently?", autoApprove)
}

func (cs *confirmationService) confirm(question string, autoApprove bool) (bool, error) {
	theme := cs.colors.Theme()
	if autoApprove {
		fmt.Fprintln(cs.out, cs.colors.Colorize("Auto-approved", theme.Success))
		return true, nil
	}
	if !cs.interactive {
		return false, ErrNotInteractive
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	for {
		fmt.Fprint(cs.out, cs.colors.Colorize(question+" [y/N]: ", theme.Primary))

		answers := make(chan string, 1)
		failures := make(chan error, 1)
		go func() {
			line, err := cs.reader.ReadString('\n')
			if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
				failures <- err
				return
			}
			answers <- line
		}()

		select {
		case <-interrupts:
			fmt.Fprintln(cs.out)
			return false, ErrInterrupted
		case err := <-failures:
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, fmt.Errorf("failed to read confirmation: %w", err)
		case answer := <-answers:
			switch strings.ToLower(strings.TrimSpace(answer)) {
			case "y", "yes":
				return true, nil
			case "", "n", "no":
				fmt.Fprintln(cs.out, cs.colors.Colorize("Cancelled", theme.Muted))
				return false, nil
			default:
				fmt.Fprintf(cs.out, "Invalid input '%s'. Please enter 'y' or 'n'.\n", strings.TrimSpace(answer))
			}
		}
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
