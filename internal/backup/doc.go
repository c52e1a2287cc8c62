// Package backup snapshots TourApp collections into versioned payload blobs,
// restores them through a single atomic batch, and prunes old artifacts.
//
// Core components:
//
//   - Manager: creates, lists, downloads and deletes backups, and restores
//     payloads from records, readers or parsed values
//   - Coordinator: process-wide single-flight guard with a cooldown window,
//     shared by every caller that can trigger a backup or restore
//   - RetentionSweeper: applies the age and count limits of a RetentionPolicy
//   - Scheduler: cron-driven automatic backups and sweeps
//   - PayloadCodec: compression and encryption of serialized payloads
//
// Example usage:
//
//	coordinator := backup.NewCoordinator()
//	manager := backup.NewManager(docs, blobs, coordinator, codec, logger)
//
//	result, err := manager.CreateBackup(ctx, backup.Options{
//		BackupType: backup.TypeFull,
//		Format:     backup.FormatJSON,
//		CreatedBy:  "admin-uid",
//	})
//	if err != nil {
//		return err
//	}
//	if result.Skipped {
//		// another backup is running or one finished moments ago
//	}
package backup
