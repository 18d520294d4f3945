package core

import "context"

type (
	// Snapshot is a named, immutable copy of a document's model.
	Snapshot struct {
		ID          string `json:"id"`
		DocumentID  string `json:"document_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Thumbnail   string `json:"thumbnail"`
		CreatedBy   string `json:"created_by"`
		CreatedAt   int64  `json:"created_at"`
		Data        []byte `json:"data,omitempty"`
	}

	// SnapshotSettings bounds how many snapshots a document keeps.
	SnapshotSettings struct {
		DocumentID   string `json:"document_id"`
		MaxSnapshots int    `json:"max_snapshots"`
	}

	SnapshotStore interface {
		CreateSnapshot(ctx context.Context, snapshot *Snapshot) (string, error)
		ListSnapshots(ctx context.Context, documentID string) ([]Snapshot, error)
		GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
		DeleteSnapshot(ctx context.Context, id string) error
		UpdateSnapshotMetadata(ctx context.Context, id, name, description string) error
		GetSnapshotSettings(ctx context.Context, documentID string) (*SnapshotSettings, error)
		UpdateSnapshotSettings(ctx context.Context, documentID string, maxSnapshots int) error
	}
)

// DefaultMaxSnapshots applies to documents without stored settings.
const DefaultMaxSnapshots = 10

// SnapshotNotFound builds the error returned for an unknown snapshot id.
func SnapshotNotFound(id string) error {
	return &NotFoundError{Kind: "snapshot", ID: id}
}
