package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"emojiart-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// CreateSnapshot stores a copy of a document's model. When the document is at
// its snapshot limit the oldest snapshots are pruned first. The snapshot's ID
// and CreatedAt are filled in.
func (s *Store) CreateSnapshot(ctx context.Context, snapshot *core.Snapshot) (string, error) {
	id := ulid.Make().String()
	createdAt := time.Now().UnixMilli()

	log := logrus.WithFields(logrus.Fields{
		"snapshot_id": id,
		"document_id": snapshot.DocumentID,
		"data_length": len(snapshot.Data),
	})

	data := snapshot.Data
	if data == nil {
		data = []byte{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	maxSnapshots := core.DefaultMaxSnapshots
	err = tx.QueryRowContext(ctx,
		"SELECT max_snapshots FROM snapshot_settings WHERE document_id = ?",
		snapshot.DocumentID).Scan(&maxSnapshots)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.WithError(err).Error("Failed to read snapshot settings")
		return "", err
	}

	var count int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots WHERE document_id = ?", snapshot.DocumentID).Scan(&count)
	if err != nil {
		log.WithError(err).Error("Failed to count snapshots")
		return "", err
	}

	if excess := count - maxSnapshots + 1; excess > 0 {
		_, err = tx.ExecContext(ctx,
			"DELETE FROM snapshots WHERE id IN (SELECT id FROM snapshots WHERE document_id = ? ORDER BY created_at ASC, id ASC LIMIT ?)",
			snapshot.DocumentID, excess)
		if err != nil {
			log.WithError(err).Error("Failed to delete oldest snapshot")
			return "", err
		}
		log.WithField("pruned", excess).Debug("Pruned old snapshots")
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO snapshots (id, document_id, name, description, thumbnail, created_by, created_at, data) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		id, snapshot.DocumentID, snapshot.Name, snapshot.Description, snapshot.Thumbnail, snapshot.CreatedBy, createdAt, data)
	if err != nil {
		log.WithError(err).Error("Failed to create snapshot")
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	snapshot.ID = id
	snapshot.CreatedAt = createdAt
	log.Info("Snapshot created successfully")
	return id, nil
}

// ListSnapshots returns a document's snapshots newest first, without data.
func (s *Store) ListSnapshots(ctx context.Context, documentID string) ([]core.Snapshot, error) {
	log := logrus.WithField("document_id", documentID)
	log.Debug("Listing snapshots for document")

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, document_id, name, description, thumbnail, created_by, created_at FROM snapshots WHERE document_id = ? ORDER BY created_at DESC, id DESC",
		documentID)
	if err != nil {
		log.WithError(err).Error("Failed to list snapshots")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close snapshot rows")
		}
	}()

	snapshots := []core.Snapshot{}
	for rows.Next() {
		var snapshot core.Snapshot
		var name, description, thumbnail, createdBy sql.NullString
		err = rows.Scan(&snapshot.ID, &snapshot.DocumentID, &name, &description, &thumbnail, &createdBy, &snapshot.CreatedAt)
		if err != nil {
			log.WithError(err).Error("Failed to scan snapshot")
			return nil, err
		}
		snapshot.Name = name.String
		snapshot.Description = description.String
		snapshot.Thumbnail = thumbnail.String
		snapshot.CreatedBy = createdBy.String
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error) {
	log := logrus.WithField("snapshot_id", id)
	log.Debug("Retrieving snapshot by ID")

	var snapshot core.Snapshot
	var name, description, thumbnail, createdBy sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, document_id, name, description, thumbnail, created_by, created_at, data FROM snapshots WHERE id = ?",
		id).Scan(&snapshot.ID, &snapshot.DocumentID, &name, &description, &thumbnail, &createdBy, &snapshot.CreatedAt, &snapshot.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.WithField("error", "snapshot not found").Warn("Snapshot with specified ID not found")
			return nil, core.SnapshotNotFound(id)
		}
		log.WithError(err).Error("Failed to retrieve snapshot")
		return nil, err
	}

	snapshot.Name = name.String
	snapshot.Description = description.String
	snapshot.Thumbnail = thumbnail.String
	snapshot.CreatedBy = createdBy.String
	return &snapshot, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	log := logrus.WithField("snapshot_id", id)

	result, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		log.WithError(err).Error("Failed to delete snapshot")
		return err
	}
	if err := requireRow(result, core.SnapshotNotFound(id)); err != nil {
		return err
	}

	log.Info("Snapshot deleted successfully")
	return nil
}

func (s *Store) UpdateSnapshotMetadata(ctx context.Context, id, name, description string) error {
	log := logrus.WithField("snapshot_id", id)

	result, err := s.db.ExecContext(ctx,
		"UPDATE snapshots SET name = ?, description = ? WHERE id = ?",
		name, description, id)
	if err != nil {
		log.WithError(err).Error("Failed to update snapshot metadata")
		return err
	}
	if err := requireRow(result, core.SnapshotNotFound(id)); err != nil {
		return err
	}

	log.Info("Snapshot metadata updated successfully")
	return nil
}

// GetSnapshotSettings falls back to core.DefaultMaxSnapshots for documents
// that never stored settings.
func (s *Store) GetSnapshotSettings(ctx context.Context, documentID string) (*core.SnapshotSettings, error) {
	settings := core.SnapshotSettings{DocumentID: documentID}
	err := s.db.QueryRowContext(ctx,
		"SELECT max_snapshots FROM snapshot_settings WHERE document_id = ?",
		documentID).Scan(&settings.MaxSnapshots)
	if errors.Is(err, sql.ErrNoRows) {
		settings.MaxSnapshots = core.DefaultMaxSnapshots
		return &settings, nil
	}
	if err != nil {
		logrus.WithField("document_id", documentID).WithError(err).Error("Failed to retrieve snapshot settings")
		return nil, err
	}
	return &settings, nil
}

func (s *Store) UpdateSnapshotSettings(ctx context.Context, documentID string, maxSnapshots int) error {
	log := logrus.WithFields(logrus.Fields{
		"document_id":   documentID,
		"max_snapshots": maxSnapshots,
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO snapshot_settings (document_id, max_snapshots) VALUES (?, ?) ON CONFLICT(document_id) DO UPDATE SET max_snapshots = excluded.max_snapshots",
		documentID, maxSnapshots)
	if err != nil {
		log.WithError(err).Error("Failed to update snapshot settings")
		return err
	}

	log.Info("Snapshot settings updated successfully")
	return nil
}
