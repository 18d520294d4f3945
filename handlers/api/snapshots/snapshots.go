package snapshots

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"emojiart-server/core"
	"emojiart-server/emojiart"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// ThumbnailSize bounds the longer side of generated snapshot thumbnails.
const ThumbnailSize = 256

const (
	// maxCreateBytes leaves room for a client supplied thumbnail.
	maxCreateBytes  = 4 << 20
	maxRequestBytes = 64 << 10
)

type (
	CreateSnapshotRequest struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Thumbnail   string `json:"thumbnail"`
		CreatedBy   string `json:"created_by"`
	}

	CreateSnapshotResponse struct {
		ID string `json:"id"`
	}

	UpdateSnapshotRequest struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}

	UpdateSettingsRequest struct {
		MaxSnapshots int `json:"max_snapshots"`
	}

	// Documents gives snapshot handlers access to live documents.
	Documents interface {
		Open(ctx context.Context, id string) (*emojiart.Document, error)
		Export(ctx context.Context, id string) ([]byte, error)
		Import(ctx context.Context, data []byte) (string, *emojiart.Document, error)
	}
)

func notFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}

// HandleCreateSnapshot records the current model of a document. Without a
// client supplied thumbnail, one is rendered from the background image.
func HandleCreateSnapshot(store core.SnapshotStore, docs Documents) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")
		log := logrus.WithField("document_id", documentID)

		// An empty body creates an unnamed snapshot.
		var req CreateSnapshotRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxCreateBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			log.WithError(err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		data, err := docs.Export(r.Context(), documentID)
		if err != nil {
			if notFound(err) {
				http.Error(w, "Document not found", http.StatusNotFound)
				return
			}
			log.WithError(err).Error("Failed to export document")
			http.Error(w, "Failed to create snapshot", http.StatusInternalServerError)
			return
		}

		thumbnail := req.Thumbnail
		if thumbnail == "" {
			thumbnail = documentThumbnail(r.Context(), docs, documentID)
		}

		id, err := store.CreateSnapshot(r.Context(), &core.Snapshot{
			DocumentID:  documentID,
			Name:        req.Name,
			Description: req.Description,
			Thumbnail:   thumbnail,
			CreatedBy:   req.CreatedBy,
			Data:        data,
		})
		if err != nil {
			log.WithError(err).Error("Failed to create snapshot")
			http.Error(w, "Failed to create snapshot", http.StatusInternalServerError)
			return
		}

		log.WithField("snapshot_id", id).Info("Snapshot created")
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateSnapshotResponse{ID: id})
	}
}

// documentThumbnail renders the background as a PNG data URL, or "" when
// the document has no decoded background.
func documentThumbnail(ctx context.Context, docs Documents, documentID string) string {
	doc, err := docs.Open(ctx, documentID)
	if err != nil {
		return ""
	}
	img := doc.BackgroundImage()
	if img == nil {
		return ""
	}
	data, err := emojiart.EncodePNG(emojiart.Thumbnail(img, ThumbnailSize))
	if err != nil {
		logrus.WithField("document_id", documentID).WithError(err).Warn("Failed to render thumbnail")
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// HandleListSnapshots lists snapshots of a document, newest first.
func HandleListSnapshots(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")

		snapshots, err := store.ListSnapshots(r.Context(), documentID)
		if err != nil {
			logrus.WithField("document_id", documentID).WithError(err).Error("Failed to list snapshots")
			http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
			return
		}

		if snapshots == nil {
			snapshots = []core.Snapshot{}
		}

		render.JSON(w, r, snapshots)
	}
}

func HandleGetSnapshotCount(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")

		snapshots, err := store.ListSnapshots(r.Context(), documentID)
		if err != nil {
			logrus.WithField("document_id", documentID).WithError(err).Error("Failed to list snapshots")
			http.Error(w, "Failed to get snapshot count", http.StatusInternalServerError)
			return
		}

		render.JSON(w, r, map[string]int{"count": len(snapshots)})
	}
}

// HandleGetSnapshot returns a snapshot including its model data.
func HandleGetSnapshot(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshotID := chi.URLParam(r, "snapshotId")

		snapshot, err := store.GetSnapshot(r.Context(), snapshotID)
		if err != nil {
			if notFound(err) {
				http.Error(w, "Snapshot not found", http.StatusNotFound)
				return
			}
			logrus.WithField("snapshot_id", snapshotID).WithError(err).Error("Failed to get snapshot")
			http.Error(w, "Failed to get snapshot", http.StatusInternalServerError)
			return
		}

		render.JSON(w, r, snapshot)
	}
}

func HandleDeleteSnapshot(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshotID := chi.URLParam(r, "snapshotId")

		if err := store.DeleteSnapshot(r.Context(), snapshotID); err != nil {
			if notFound(err) {
				http.Error(w, "Snapshot not found", http.StatusNotFound)
				return
			}
			logrus.WithField("snapshot_id", snapshotID).WithError(err).Error("Failed to delete snapshot")
			http.Error(w, "Failed to delete snapshot", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleUpdateSnapshot renames a snapshot. The stored model never changes.
func HandleUpdateSnapshot(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshotID := chi.URLParam(r, "snapshotId")
		log := logrus.WithField("snapshot_id", snapshotID)

		var req UpdateSnapshotRequest
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			log.WithError(err).Error("Failed to read request body")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			log.WithError(err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := store.UpdateSnapshotMetadata(r.Context(), snapshotID, req.Name, req.Description); err != nil {
			if notFound(err) {
				http.Error(w, "Snapshot not found", http.StatusNotFound)
				return
			}
			log.WithError(err).Error("Failed to update snapshot")
			http.Error(w, "Failed to update snapshot", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleRestoreSnapshot opens the snapshot's model as a new document.
func HandleRestoreSnapshot(store core.SnapshotStore, docs Documents) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshotID := chi.URLParam(r, "snapshotId")
		log := logrus.WithField("snapshot_id", snapshotID)

		snapshot, err := store.GetSnapshot(r.Context(), snapshotID)
		if err != nil {
			if notFound(err) {
				http.Error(w, "Snapshot not found", http.StatusNotFound)
				return
			}
			log.WithError(err).Error("Failed to get snapshot")
			http.Error(w, "Failed to get snapshot", http.StatusInternalServerError)
			return
		}

		id, _, err := docs.Import(r.Context(), snapshot.Data)
		if err != nil {
			log.WithError(err).Error("Failed to restore snapshot")
			http.Error(w, "Failed to restore snapshot", http.StatusInternalServerError)
			return
		}

		log.WithField("document_id", id).Info("Snapshot restored")
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateSnapshotResponse{ID: id})
	}
}

func HandleGetSettings(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")

		settings, err := store.GetSnapshotSettings(r.Context(), documentID)
		if err != nil {
			logrus.WithField("document_id", documentID).WithError(err).Error("Failed to get snapshot settings")
			http.Error(w, "Failed to get snapshot settings", http.StatusInternalServerError)
			return
		}

		render.JSON(w, r, settings)
	}
}

// HandleUpdateSettings stores the snapshot limit; values below one reset it
// to core.DefaultMaxSnapshots.
func HandleUpdateSettings(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")
		log := logrus.WithField("document_id", documentID)

		var req UpdateSettingsRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
			log.WithError(err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if req.MaxSnapshots < 1 {
			req.MaxSnapshots = core.DefaultMaxSnapshots
		}

		if err := store.UpdateSnapshotSettings(r.Context(), documentID, req.MaxSnapshots); err != nil {
			log.WithError(err).Error("Failed to update snapshot settings")
			http.Error(w, "Failed to update snapshot settings", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
