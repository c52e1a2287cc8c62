package realtime

import (
	"sort"
	"sync"
	"time"

	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/logging"
)

// DevicesCollection is where the mobile app registers each installation
const DevicesCollection = "devices"

// Device is the presence view of one registered installation
type Device struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId,omitempty"`
	Model      string    `json:"deviceModel,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	Online     bool      `json:"isOnline"`
	LastActive time.Time `json:"lastActive,omitempty"`
}

// PresenceSummary counts the registered and online devices
type PresenceSummary struct {
	Total     int       `json:"total"`
	Online    int       `json:"online"`
	Devices   []Device  `json:"devices"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Presence mirrors the devices collection from registry batches
type Presence struct {
	logger *logging.Logger

	mu        sync.RWMutex
	devices   map[string]Device
	updatedAt time.Time
}

// NewPresence creates an empty tracker
func NewPresence(logger *logging.Logger) *Presence {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Presence{
		logger:  logger,
		devices: make(map[string]Device),
	}
}

// Track feeds every devices snapshot of registry into p. The devices
// collection still has to be started on the registry.
func (p *Presence) Track(registry *Registry) Unsubscribe {
	return registry.OnBatch(func(batch Batch) {
		if batch.Collection == DevicesCollection {
			p.Apply(batch)
		}
	})
}

// Apply folds one snapshot into the tracker
func (p *Presence) Apply(batch Batch) {
	p.mu.Lock()
	for _, event := range batch.Events {
		if event.Kind == docstore.ChangeRemoved {
			delete(p.devices, event.ID)
			continue
		}
		p.devices[event.ID] = deviceFromEntity(event.ID, event.Entity)
	}
	p.updatedAt = batch.At
	total, online := len(p.devices), p.onlineLocked()
	p.mu.Unlock()

	p.logger.WithFields(map[string]interface{}{
		"devices": total,
		"online":  online,
	}).Debug("Device presence updated")
}

// Summary returns the counts and the devices sorted by id
func (p *Presence) Summary() PresenceSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary := PresenceSummary{
		Total:     len(p.devices),
		Online:    p.onlineLocked(),
		Devices:   make([]Device, 0, len(p.devices)),
		UpdatedAt: p.updatedAt,
	}
	for _, d := range p.devices {
		summary.Devices = append(summary.Devices, d)
	}
	sort.Slice(summary.Devices, func(i, j int) bool {
		return summary.Devices[i].ID < summary.Devices[j].ID
	})
	return summary
}

func (p *Presence) onlineLocked() int {
	n := 0
	for _, d := range p.devices {
		if d.Online {
			n++
		}
	}
	return n
}

// deviceFromEntity reads the fields the mobile app writes. Only a literal
// true counts as online.
func deviceFromEntity(id string, data map[string]interface{}) Device {
	d := Device{ID: id}
	d.UserID, _ = data["userId"].(string)
	d.Model, _ = data["deviceModel"].(string)
	d.Platform, _ = data["platform"].(string)
	d.Online, _ = data["isOnline"].(bool)
	if t, ok := data["lastActive"].(time.Time); ok {
		d.LastActive = t.UTC()
	}
	return d
}
