package websocket

import (
	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/realtime"
)

// Entity names used for non-collection messages
const (
	EntityConnection = "connection"
	EntityBackup     = "backup"
)

// Bridge forwards registry change and status events to the hub. The returned
// func detaches both handlers.
func Bridge(registry *realtime.Registry, hub *Hub) func() {
	offChange := registry.OnChange("*", func(event realtime.Event) {
		hub.Broadcast(NewMessage(event.Collection, string(event.Kind), event.ID, nil))
	})
	offStatus := registry.OnStatus(func(status realtime.StatusEvent) {
		hub.Broadcast(StatusMessage(status))
	})
	return func() {
		offChange()
		offStatus()
	}
}

// StatusMessage converts a subscription health transition
func StatusMessage(status realtime.StatusEvent) Message {
	extra := map[string]interface{}{
		"collection": status.Collection,
		"terminal":   status.Terminal,
	}
	if status.Attempt > 0 {
		extra["attempt"] = status.Attempt
	}
	if status.Message != "" {
		extra["message"] = status.Message
	}
	return NewMessage(EntityConnection, string(status.State), status.Collection, extra)
}

// BackupMessage describes a backup lifecycle step: created, deleted,
// restored, failed or swept
func BackupMessage(action string, record *backup.BackupRecord, err error) Message {
	extra := map[string]interface{}{}
	id := ""
	if record != nil {
		id = record.ID
		extra["backupType"] = string(record.BackupType)
		extra["status"] = string(record.Status)
		extra["size"] = record.SizeBytes
	}
	if err != nil {
		extra["error"] = err.Error()
	}
	return NewMessage(EntityBackup, action, id, extra)
}
