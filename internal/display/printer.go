package display

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/realtime"
)

// Printer writes command results in the configured output format
type Printer struct {
	config DisplayConfig
	out    io.Writer
	colors ColorSystem
	icons  *IconSet
}

// NewPrinter creates a printer writing to out
func NewPrinter(config DisplayConfig, out io.Writer) *Printer {
	config.SetDefaults()
	return &Printer{
		config: config,
		out:    out,
		colors: NewColorSystem(config.GetColorTheme(), config.ColorEnabled),
		icons:  NewIconSet(config.UseIcons),
	}
}

// Format returns the output format in use
func (p *Printer) Format() OutputFormat {
	return OutputFormat(p.config.OutputFormat)
}

// Colors exposes the color system, used by confirmation prompts
func (p *Printer) Colors() ColorSystem {
	return p.colors
}

func (p *Printer) Success(message string) { p.status("success", message, p.colors.Theme().Success) }
func (p *Printer) Warning(message string) { p.status("warning", message, p.colors.Theme().Warning) }
func (p *Printer) Error(message string) { p.status("error", message, p.colors.Theme().Error) }
func (p *Printer) Info(message string) { p.status("info", message, p.colors.Theme().Info) }

func (p *Printer) status(level, message string, clr Color) {
	switch p.Format() {
	case FormatJSON, FormatYAML:
		p.Value(map[string]string{"level": level, "message": message})
	case FormatCompact:
		fmt.Fprintf(p.out, "%s: %s\n", level, message)
	default:
		if icon := p.icons.Render(level, p.colors); icon != "" {
			fmt.Fprintf(p.out, "%s %s\n", icon, p.colors.Colorize(message, clr))
			return
		}
		fmt.Fprintln(p.out, p.colors.Colorize(message, clr))
	}
}

// Value prints v as JSON or YAML. YAML keys follow the JSON field names.
func (p *Printer) Value(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	if p.Format() != FormatYAML {
		_, err = fmt.Fprintln(p.out, string(data))
		return err
	}

	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to convert output: %w", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return fmt.Errorf("failed to marshal output as YAML: %w", err)
	}
	_, err = p.out.Write(out)
	return err
}

// tabular prints a table in table and compact formats and value otherwise
func (p *Printer) tabular(headers []string, rows [][]string, value interface{}, rightAligned ...int) error {
	switch p.Format() {
	case FormatJSON, FormatYAML:
		return p.Value(value)
	case FormatCompact:
		fmt.Fprintln(p.out, strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(p.out, strings.Join(row, "\t"))
		}
		return nil
	}

	table := NewTable(p.config.TableStyle, p.config.MaxTableWidth, p.colors)
	table.SetHeaders(headers...)
	for _, col := range rightAligned {
		table.SetAlignment(col, AlignRight)
	}
	for _, row := range rows {
		table.AddRow(row...)
	}
	_, err := io.WriteString(p.out, table.Render())
	return err
}

// Backups prints backup records newest first as given
func (p *Printer) Backups(records []*backup.BackupRecord) error {
	if len(records) == 0 && p.Format() == FormatTable {
		p.Info("No backups found")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.ID,
			string(r.BackupType),
			string(r.Format),
			FormatBytes(r.SizeBytes),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.CreatedBy,
			string(r.Status),
		})
	}
	if records == nil {
		records = []*backup.BackupRecord{}
	}
	return p.tabular([]string{"ID", "TYPE", "FORMAT", "SIZE", "CREATED", "BY", "STATUS"}, rows, records, 3)
}

// Backup prints a single record as key/value rows
func (p *Printer) Backup(r *backup.BackupRecord) error {
	rows := [][]string{
		{"id", r.ID},
		{"filename", r.Filename},
		{"type", string(r.BackupType)},
		{"format", string(r.Format)},
		{"size", FormatBytes(r.SizeBytes)},
		{"stored", FormatBytes(r.StoredBytes)},
		{"compression", string(r.Compression)},
		{"encrypted", strconv.FormatBool(r.Encrypted)},
		{"created", r.CreatedAt.Local().Format(time.RFC3339)},
		{"createdBy", r.CreatedBy},
		{"status", string(r.Status)},
	}
	return p.tabular([]string{"FIELD", "VALUE"}, rows, r)
}

// Settings prints flattened settings sorted by key
func (p *Printer) Settings(flat map[string]interface{}) error {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprint(flat[k])})
	}
	return p.tabular([]string{"KEY", "VALUE"}, rows, flat)
}

// SyncHealth prints the per-collection subscription state
func (p *Printer) SyncHealth(health []realtime.Health) error {
	rows := make([][]string, 0, len(health))
	for _, h := range health {
		last := "-"
		if !h.LastEventAt.IsZero() {
			last = h.LastEventAt.Local().Format("15:04:05")
		}
		state := string(h.State)
		if icon := p.icons.Render(stateIcon(h.State), p.colors); icon != "" {
			state = icon + " " + state
		}
		rows = append(rows, []string{h.Collection, state, strconv.Itoa(h.Attempts), last, h.LastError})
	}
	return p.tabular([]string{"COLLECTION", "STATE", "ATTEMPTS", "LAST EVENT", "ERROR"}, rows, health, 2)
}

func stateIcon(state realtime.State) string {
	switch state {
	case realtime.StateLive:
		return "live"
	case realtime.StateConnecting:
		return "connecting"
	case realtime.StateReconnecting:
		return "reconnect"
	case realtime.StateUnavailable:
		return "unavailable"
	default:
		return "idle"
	}
}

// Presence prints the tracked devices followed by the online count
func (p *Printer) Presence(summary realtime.PresenceSummary) error {
	rows := make([][]string, 0, len(summary.Devices))
	for _, d := range summary.Devices {
		online := strconv.FormatBool(d.Online)
		icon := "idle"
		if d.Online {
			icon = "live"
		}
		if rendered := p.icons.Render(icon, p.colors); rendered != "" {
			online = rendered + " " + online
		}
		last := "-"
		if !d.LastActive.IsZero() {
			last = d.LastActive.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{d.ID, d.UserID, d.Platform, online, last})
	}
	if err := p.tabular([]string{"DEVICE", "USER", "PLATFORM", "ONLINE", "LAST ACTIVE"}, rows, summary); err != nil {
		return err
	}
	if p.Format() == FormatTable {
		p.Info(fmt.Sprintf("%d of %d device(s) online", summary.Online, summary.Total))
	}
	return nil
}

// Sweep prints the outcome of a retention sweep
func (p *Printer) Sweep(result *backup.SweepResult) error {
	if p.Format() == FormatJSON || p.Format() == FormatYAML {
		failures := make([]map[string]string, 0, len(result.BlobDeleteFailures))
		for _, f := range result.BlobDeleteFailures {
			entry := map[string]string{"recordId": f.RecordID, "ref": f.Ref}
			if f.Err != nil {
				entry["error"] = f.Err.Error()
			}
			failures = append(failures, entry)
		}
		return p.Value(map[string]interface{}{
			"recordsDeleted":     result.RecordsDeleted,
			"deletedIds":         result.DeletedIDs,
			"blobDeleteFailures": failures,
			"duration":           result.Duration.String(),
		})
	}

	if result.RecordsDeleted == 0 {
		p.Info("Retention sweep found nothing to delete")
		return nil
	}
	p.Success(fmt.Sprintf("Deleted %d backup record(s) in %s", result.RecordsDeleted, result.Duration.Round(time.Millisecond)))
	for _, f := range result.BlobDeleteFailures {
		p.Warning(fmt.Sprintf("Blob %s of %s was not removed: %v", f.Ref, f.RecordID, f.Err))
	}
	return nil
}

// Restore prints the per-section write counts of a restore
func (p *Printer) Restore(result *backup.RestoreResult) error {
	sections := make([]string, 0, len(result.Sections))
	for name := range result.Sections {
		sections = append(sections, name)
	}
	sort.Strings(sections)

	rows := make([][]string, 0, len(sections))
	for _, name := range sections {
		rows = append(rows, []string{name, strconv.Itoa(result.Sections[name])})
	}
	value := map[string]interface{}{"written": result.Written, "sections": result.Sections}
	if err := p.tabular([]string{"SECTION", "DOCUMENTS"}, rows, value, 1); err != nil {
		return err
	}
	if p.Format() == FormatTable {
		p.Success(fmt.Sprintf("Restored %d document(s)", result.Written))
	}
	return nil
}

// Counts prints document counts per collection
func (p *Printer) Counts(counts map[string]int) error {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.Itoa(counts[name])})
	}
	return p.tabular([]string{"COLLECTION", "DOCUMENTS"}, rows, counts, 1)
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
