package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tourapp-admin/internal/backup"
	apperrors "tourapp-admin/internal/errors"
	"tourapp-admin/internal/functions"
	"tourapp-admin/internal/realtime"
	"tourapp-admin/internal/settings"
	ws "tourapp-admin/internal/websocket"
)

type syncStatusResponse struct {
	Connected   bool                      `json:"connected"`
	Collections []realtime.Health         `json:"collections"`
	Unavailable []string                  `json:"unavailable"`
	Backup      backup.CoordinatorState   `json:"backup"`
	NextBackup  *time.Time                `json:"nextBackup,omitempty"`
	Clients     int                       `json:"dashboardClients"`
	Devices     *realtime.PresenceSummary `json:"devices,omitempty"`
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	resp := syncStatusResponse{
		Connected:   s.deps.Registry.IsConnected(),
		Collections: s.deps.Registry.AllHealth(),
		Unavailable: s.deps.Registry.Unavailable(),
		Backup:      s.deps.Manager.Coordinator().State(),
		Clients:     s.deps.Hub.ClientCount(),
	}
	if s.deps.Presence != nil {
		summary := s.deps.Presence.Summary()
		summary.Devices = nil
		resp.Devices = &summary
	}
	if s.deps.Scheduler != nil {
		if next, ok := s.deps.Scheduler.Next(); ok {
			resp.NextBackup = &next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if s.deps.Presence == nil {
		writeError(w, http.StatusServiceUnavailable, "device presence is not tracked")
		return
	}
	summary := s.deps.Presence.Summary()
	if r.URL.Query().Get("online") == "true" {
		online := summary.Devices[:0]
		for _, d := range summary.Devices {
			if d.Online {
				online = append(online, d)
			}
		}
		summary.Devices = online
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) syncActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	activity := s.deps.Registry.Activity()
	if limit > 0 && len(activity) > limit {
		activity = activity[len(activity)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"activity": activity})
}

func (s *Server) resync(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	// the subscription must outlive the request
	if err := s.deps.Registry.ForceResync(context.WithoutCancel(r.Context()), collection); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"collection": collection, "status": "resyncing"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusServiceUnavailable, "collection cache is not configured")
		return
	}
	counts, err := s.deps.Cache.Stats(r.Context(), realtime.DefaultCollections...)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.deps.Manager.ListBackups(r.Context(), limit)
	if err != nil {
		s.writeBackupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"backups": records})
}

type createBackupRequest struct {
	BackupType   backup.BackupType `json:"backupType"`
	Format       backup.Format     `json:"format"`
	IncludeMedia bool              `json:"includeMedia"`
	CreatedBy    string            `json:"createdBy"`
}

func (s *Server) createBackup(w http.ResponseWriter, r *http.Request) {
	req := createBackupRequest{BackupType: backup.TypeFull, Format: backup.FormatJSON}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "admin"
	}

	// a guarded operation runs to completion even if the client goes away
	result, err := s.deps.Manager.CreateBackup(context.WithoutCancel(r.Context()), backup.Options{
		BackupType:   req.BackupType,
		Format:       req.Format,
		IncludeMedia: req.IncludeMedia,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		s.deps.Hub.Broadcast(ws.BackupMessage("failed", nil, err))
		s.writeBackupError(w, r, err)
		return
	}
	if result.Skipped {
		writeJSON(w, http.StatusConflict, skippedBody(result.Reason))
		return
	}

	s.deps.Hub.Broadcast(ws.BackupMessage("created", result.Record, nil))
	writeJSON(w, http.StatusCreated, result.Record)
}

func (s *Server) getBackup(w http.ResponseWriter, r *http.Request) {
	record, err := s.deps.Manager.GetBackup(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeBackupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) downloadBackup(w http.ResponseWriter, r *http.Request) {
	record, data, err := s.deps.Manager.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeBackupError(w, r, err)
		return
	}

	contentType := "application/json"
	if record.Format == backup.FormatCSV {
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.PlainFilename()))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) deleteBackup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.deps.Manager.DeleteBackup(r.Context(), id)
	if err != nil && !backup.IsErrorType(err, backup.ErrorTypePartialCleanupFailure) {
		s.writeBackupError(w, r, err)
		return
	}

	s.deps.Hub.Broadcast(ws.BackupMessage("deleted", &backup.BackupRecord{ID: id}, err))
	resp := map[string]interface{}{"id": id, "deleted": true}
	if err != nil {
		resp["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) restoreBackup(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Manager.RestoreFromRecord(context.WithoutCancel(r.Context()), r.PathValue("id"))
	s.writeRestoreResult(w, r, result, err)
}

func (s *Server) restoreUpload(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	result, err := s.deps.Manager.RestoreFromReader(context.WithoutCancel(r.Context()), body)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	s.writeRestoreResult(w, r, result, err)
}

func (s *Server) writeRestoreResult(w http.ResponseWriter, r *http.Request, result *backup.RestoreResult, err error) {
	if err != nil {
		s.deps.Hub.Broadcast(ws.BackupMessage("restore_failed", nil, err))
		s.writeBackupError(w, r, err)
		return
	}
	if result.Skipped {
		writeJSON(w, http.StatusConflict, skippedBody(result.Reason))
		return
	}

	s.deps.Hub.Broadcast(ws.NewMessage(ws.EntityBackup, "restored", "", map[string]interface{}{"written": result.Written}))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"written":  result.Written,
		"sections": result.Sections,
	})
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	policy := backup.DefaultRetentionPolicy()
	if s.deps.Settings != nil {
		loaded, err := s.deps.Settings.RetentionPolicy(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		policy = loaded
	}

	result, err := s.deps.Sweeper.Sweep(r.Context(), policy)
	if err != nil {
		s.writeBackupError(w, r, err)
		return
	}

	failures := make([]map[string]string, 0, len(result.BlobDeleteFailures))
	for _, f := range result.BlobDeleteFailures {
		entry := map[string]string{"recordId": f.RecordID, "ref": f.Ref}
		if f.Err != nil {
			entry["error"] = f.Err.Error()
		}
		failures = append(failures, entry)
	}

	s.deps.Hub.Broadcast(ws.NewMessage(ws.EntityBackup, "swept", "", map[string]interface{}{"deleted": result.RecordsDeleted}))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recordsDeleted":     result.RecordsDeleted,
		"deletedIds":         result.DeletedIDs,
		"blobDeleteFailures": failures,
		"duration":           result.Duration.String(),
	})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings are not configured")
		return
	}
	doc, err := s.deps.Settings.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settings": settings.Flatten(doc)})
}

type putSettingRequest struct {
	Value     json.RawMessage `json:"value"`
	UpdatedBy string          `json:"updatedBy"`
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings are not configured")
		return
	}

	var req putSettingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	// accept both "30" and 30
	raw := string(req.Value)
	var str string
	if json.Unmarshal(req.Value, &str) == nil {
		raw = str
	}

	key := r.PathValue("key")
	if err := s.deps.Settings.Set(r.Context(), key, raw, req.UpdatedBy); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.reloadSchedule(r, key)

	value, err := s.deps.Settings.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

type putBackupSettingsRequest struct {
	backup.RetentionPolicy
	UpdatedBy string `json:"updatedBy"`
}

func (s *Server) putBackupSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings are not configured")
		return
	}

	current, err := s.deps.Settings.RetentionPolicy(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	// omitted fields keep their stored value
	req := putBackupSettingsRequest{RetentionPolicy: current}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Settings.SetRetentionPolicy(r.Context(), req.RetentionPolicy, req.UpdatedBy); err != nil {
		status := http.StatusServiceUnavailable
		if backup.IsErrorType(err, backup.ErrorTypeValidation) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	s.reloadSchedule(r, "backupSettings.")

	writeJSON(w, http.StatusOK, map[string]interface{}{"backupSettings": req.RetentionPolicy})
}

func (s *Server) resetSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings are not configured")
		return
	}
	if err := s.deps.Settings.Reset(r.Context(), r.URL.Query().Get("updatedBy")); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.reloadSchedule(r, "backupSettings.")
	writeJSON(w, http.StatusOK, map[string]interface{}{"settings": settings.Flatten(settings.Defaults())})
}

func (s *Server) reloadSchedule(r *http.Request, key string) {
	if s.deps.Scheduler == nil || !strings.HasPrefix(key, "backupSettings.") {
		return
	}
	if err := s.deps.Scheduler.Reload(r.Context()); err != nil {
		s.logger.WithContext(r.Context()).WithField("error", err.Error()).Warn("Failed to reload backup schedule")
	}
}

func (s *Server) functionsClient(w http.ResponseWriter) (*functions.Client, bool) {
	if s.deps.Functions == nil {
		writeError(w, http.StatusServiceUnavailable, "admin functions are not configured")
		return nil, false
	}
	return s.deps.Functions, true
}

func (s *Server) forceSyncAll(w http.ResponseWriter, r *http.Request) {
	client, ok := s.functionsClient(w)
	if !ok {
		return
	}
	resp, err := client.ForceSyncAllDevices(r.Context())
	s.writeFunctionResult(w, resp, err)
}

func (s *Server) forceSyncDevice(w http.ResponseWriter, r *http.Request) {
	client, ok := s.functionsClient(w)
	if !ok {
		return
	}
	resp, err := client.ForceSyncDevice(r.Context(), r.PathValue("id"))
	s.writeFunctionResult(w, resp, err)
}

func (s *Server) forceLogout(w http.ResponseWriter, r *http.Request) {
	client, ok := s.functionsClient(w)
	if !ok {
		return
	}
	resp, err := client.ForceLogoutDevice(r.Context(), r.PathValue("id"))
	s.writeFunctionResult(w, resp, err)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	client, ok := s.functionsClient(w)
	if !ok {
		return
	}
	resp, err := client.DeleteUser(r.Context(), r.PathValue("id"))
	s.writeFunctionResult(w, resp, err)
}

func (s *Server) sendNotification(w http.ResponseWriter, r *http.Request) {
	client, ok := s.functionsClient(w)
	if !ok {
		return
	}
	var n functions.Notification
	if err := decodeBody(r, &n); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := client.SendSystemNotification(r.Context(), n)
	s.writeFunctionResult(w, resp, err)
}

func (s *Server) writeFunctionResult(w http.ResponseWriter, resp functions.Response, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	message := err.Error()
	var fnErr *functions.FunctionError
	isFnErr := errors.As(err, &fnErr)
	if isFnErr {
		message = fnErr.Message
	}

	switch {
	case apperrors.GetErrorType(err) == apperrors.ErrorTypeValidation:
		writeError(w, http.StatusBadRequest, message)
	case isFnErr && fnErr.Status >= 400 && fnErr.Status < 500:
		writeError(w, fnErr.Status, message)
	case apperrors.IsRecoverableError(err):
		writeError(w, http.StatusServiceUnavailable, message)
	default:
		writeError(w, http.StatusBadGateway, message)
	}
}

func skippedBody(reason error) map[string]interface{} {
	body := map[string]interface{}{"skipped": true}
	if reason != nil {
		body["reason"] = reason.Error()
	}
	return body
}

// decodeBody decodes an optional JSON body into v
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
