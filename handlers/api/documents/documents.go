package documents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"

	"emojiart-server/core"
	"emojiart-server/emojiart"
	"emojiart-server/sessions"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// maxImportBytes caps imported models and JSON request bodies, which may
// carry base64 background image data.
const maxImportBytes = 32 << 20

type (
	// Sessions is the part of sessions.Manager the handlers use.
	Sessions interface {
		Create(ctx context.Context, model emojiart.Model) (string, *emojiart.Document, error)
		Import(ctx context.Context, data []byte) (string, *emojiart.Document, error)
		Open(ctx context.Context, id string) (*emojiart.Document, error)
		Export(ctx context.Context, id string) ([]byte, error)
		Delete(ctx context.Context, id string) error
	}

	DocumentCreateResponse struct {
		ID string `json:"id"`
	}

	AddEmojiRequest struct {
		Text string  `json:"text"`
		X    int     `json:"x"`
		Y    int     `json:"y"`
		Size float64 `json:"size"`
	}

	MoveEmojiRequest struct {
		DX float64 `json:"dx"`
		DY float64 `json:"dy"`
	}

	ScaleEmojiRequest struct {
		Factor float64 `json:"factor"`
	}

	BackgroundRequest struct {
		Kind string `json:"kind"`
		URL  string `json:"url,omitempty"`
		Data []byte `json:"data,omitempty"`
	}

	// ViewportRequest describes the client view a drop happened in. Pan is
	// in screen units.
	ViewportRequest struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
		Zoom   float64 `json:"zoom"`
		PanX   float64 `json:"panX"`
		PanY   float64 `json:"panY"`
	}

	DropRequest struct {
		URL      string          `json:"url,omitempty"`
		Data     []byte          `json:"data,omitempty"`
		Text     string          `json:"text,omitempty"`
		X        float64         `json:"x"`
		Y        float64         `json:"y"`
		Viewport ViewportRequest `json:"viewport"`
	}

	DropResponse struct {
		Kind  string          `json:"kind"`
		Emoji *emojiart.Emoji `json:"emoji,omitempty"`
	}
)

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// openDocument resolves the {id} URL parameter, answering 404 itself when
// the document does not exist.
func openDocument(w http.ResponseWriter, r *http.Request, s Sessions) (string, *emojiart.Document, bool) {
	id := chi.URLParam(r, "id")
	log := logrus.WithField("document_id", id)
	if id == "" {
		renderError(w, r, http.StatusBadRequest, "Document id is required")
		return "", nil, false
	}

	doc, err := s.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			log.Warn("Document not found")
			renderError(w, r, http.StatusNotFound, "Document not found")
			return "", nil, false
		}
		log.WithError(err).Error("Failed to open document")
		renderError(w, r, http.StatusInternalServerError, "Failed to open document")
		return "", nil, false
	}
	return id, doc, true
}

func emojiID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "emojiId"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "Invalid emoji id")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxImportBytes)).Decode(v); err != nil {
		logrus.WithError(err).Warn("Failed to decode request")
		renderError(w, r, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// HandleCreate starts a new document, seeded with the sample emojis when
// ?sample=true.
func HandleCreate(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var model emojiart.Model
		if sample, _ := strconv.ParseBool(r.URL.Query().Get("sample")); sample {
			model = emojiart.SampleModel()
		}

		id, _, err := s.Create(r.Context(), model)
		if err != nil {
			logrus.WithError(err).Error("Failed to create document")
			renderError(w, r, http.StatusInternalServerError, "Failed to save")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, DocumentCreateResponse{ID: id})
	}
}

func HandleGet(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, doc, ok := openDocument(w, r, s)
		if !ok {
			return
		}
		render.JSON(w, r, sessions.View(id, doc.State()))
	}
}

func HandleDelete(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.Delete(r.Context(), id); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				renderError(w, r, http.StatusNotFound, "Document not found")
				return
			}
			logrus.WithField("document_id", id).WithError(err).Error("Failed to delete document")
			renderError(w, r, http.StatusInternalServerError, "Failed to delete document")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleAddEmoji(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, doc, ok := openDocument(w, r, s)
		if !ok {
			return
		}

		var req AddEmojiRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if emojiart.FirstGrapheme(req.Text) != req.Text || !emojiart.IsEmoji(req.Text) {
			renderError(w, r, http.StatusBadRequest, "Text must be a single emoji")
			return
		}
		if !finite(req.Size) || req.Size < 1 {
			renderError(w, r, http.StatusBadRequest, "Size must be at least 1")
			return
		}

		emoji := doc.AddEmoji(req.Text, req.X, req.Y, req.Size)
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, emoji)
	}
}

func HandleMoveEmoji(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, doc, ok := openDocument(w, r, s)
		if !ok {
			return
		}
		emoji, ok := emojiID(w, r)
		if !ok {
			return
		}

		var req MoveEmojiRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !finite(req.DX, req.DY) {
			renderError(w, r, http.StatusBadRequest, "Offsets must be finite")
			return
		}

		if !doc.MoveEmoji(emoji, req.DX, req.DY) {
			logrus.WithFields(logrus.Fields{"document_id": id, "emoji_id": emoji}).Warn("Emoji not found")
			renderError(w, r, http.StatusNotFound, "Emoji not found")
			return
		}
		render.JSON(w, r, sessions.View(id, doc.State()))
	}
}

func HandleScaleEmoji(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, doc, ok := openDocument(w, r, s)
		if !ok {
			return
		}
		emoji, ok := emojiID(w, r)
		if !ok {
			return
		}

		var req ScaleEmojiRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !finite(req.Factor) || req.Factor <= 0 {
			renderError(w, r, http.StatusBadRequest, "Factor must be positive")
			return
		}

		if !doc.ScaleEmoji(emoji, req.Factor) {
			logrus.WithFields(logrus.Fields{"document_id": id, "emoji_id": emoji}).Warn("Emoji not found")
			renderError(w, r, http.StatusNotFound, "Emoji not found")
			return
		}
		render.JSON(w, r, sessions.View(id, doc.State()))
	}
}

// HandleRemoveEmoji succeeds whether or not the emoji exists.
func HandleRemoveEmoji(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, doc, ok := openDocument(w, r, s)
		if !ok {
			return
		}
		emoji, ok := emojiID(w, r)
		if !ok {
			return
		}
		doc.RemoveEmoji(emoji)
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSetBackground installs a background. URL backgrounds resolve
// asynchronously; clients watch fetchStatus or the realtime channel.
func HandleSetBackground(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, doc, ok := openDocument(w, r, s)
		if !ok {
			return
		}

		var req BackgroundRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		bg, err := emojiart.ParseBackground(req.Kind, req.URL, req.Data)
		if err != nil {
			renderError(w, r, http.StatusBadRequest, err.Error())
			return
		}

		doc.SetBackground(bg)
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, sessions.View(id, doc.State()))
	}
}

// HandleGetBackgroundImage serves the decoded background as PNG.
func HandleGetBackgroundImage(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, doc, ok := openDocument(w, r, s)
		if !ok {
			return
		}

		img := doc.BackgroundImage()
		if img == nil {
			renderError(w, r, http.StatusNotFound, "No background image")
			return
		}
		data, err := emojiart.EncodePNG(img)
		if err != nil {
			logrus.WithField("document_id", id).WithError(err).Error("Failed to encode background")
			renderError(w, r, http.StatusInternalServerError, "Failed to encode background")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

// HandleDrop applies content dropped at a point of a client's view.
func HandleDrop(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, doc, ok := openDocument(w, r, s)
		if !ok {
			return
		}

		var req DropRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		vp := req.Viewport
		if !finite(req.X, req.Y, vp.Width, vp.Height, vp.Zoom, vp.PanX, vp.PanY) {
			renderError(w, r, http.StatusBadRequest, "Coordinates must be finite")
			return
		}

		view := emojiart.RestoreViewport(
			emojiart.Size{Width: vp.Width, Height: vp.Height},
			vp.Zoom,
			emojiart.Offset{Width: vp.PanX, Height: vp.PanY},
		)
		drop := emojiart.Drop{URL: req.URL, ImageData: req.Data, Text: req.Text}
		resolved, err := view.Drop(doc, drop, emojiart.Point{X: req.X, Y: req.Y})
		if err != nil {
			if errors.Is(err, emojiart.ErrNothingToDrop) {
				renderError(w, r, http.StatusUnprocessableEntity, err.Error())
				return
			}
			logrus.WithField("document_id", id).WithError(err).Error("Failed to apply drop")
			renderError(w, r, http.StatusInternalServerError, "Failed to apply drop")
			return
		}

		resp := DropResponse{Kind: dropKindName(resolved.Kind)}
		if resolved.Kind == emojiart.DropEmoji {
			added := resolved.Added
			resp.Emoji = &added
		}
		render.JSON(w, r, resp)
	}
}

func dropKindName(k emojiart.DropKind) string {
	switch k {
	case emojiart.DropURL:
		return "url"
	case emojiart.DropImageData:
		return "imageData"
	case emojiart.DropEmoji:
		return "emoji"
	}
	return "none"
}

// HandleExport returns the stored form of the model.
func HandleExport(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		data, err := s.Export(r.Context(), id)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				renderError(w, r, http.StatusNotFound, "Document not found")
				return
			}
			logrus.WithField("document_id", id).WithError(err).Error("Failed to export document")
			renderError(w, r, http.StatusInternalServerError, "Failed to export document")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.emojiart.json"`)
		w.Write(data)
	}
}

func HandleImport(s Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
		if err != nil {
			logrus.WithError(err).Error("Failed to read request body")
			renderError(w, r, http.StatusBadRequest, "Failed to read request body")
			return
		}

		id, _, err := s.Import(r.Context(), data)
		if err != nil {
			logrus.WithError(err).Warn("Failed to import document")
			renderError(w, r, http.StatusBadRequest, "Invalid document")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, DocumentCreateResponse{ID: id})
	}
}

type roomJSON struct {
	ID         string `json:"id"`
	Users      int    `json:"users"`
	LastActive *int64 `json:"lastActive,omitempty"`
}

// HandleListRooms lists documents with realtime activity: rooms with
// connected users first, then by most recent activity. active may be nil.
func HandleListRooms(rooms core.RoomRegistry, active func() map[string]int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		byID := make(map[string]*roomJSON)
		if active != nil {
			for id, users := range active() {
				byID[id] = &roomJSON{ID: id, Users: users}
			}
		}

		if rooms != nil {
			stored, err := rooms.ListRooms(r.Context())
			if err != nil {
				logrus.WithError(err).Warn("Failed to list rooms from registry")
			}
			for _, room := range stored {
				entry, ok := byID[room.ID]
				if !ok {
					entry = &roomJSON{ID: room.ID}
					byID[room.ID] = entry
				}
				if room.LastActive > 0 {
					at := room.LastActive
					entry.LastActive = &at
				}
			}
		}

		list := make([]roomJSON, 0, len(byID))
		for _, entry := range byID {
			list = append(list, *entry)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Users != list[j].Users {
				return list[i].Users > list[j].Users
			}
			li, lj := lastActive(list[i]), lastActive(list[j])
			if li != lj {
				return li > lj
			}
			return list[i].ID < list[j].ID
		})

		render.JSON(w, r, list)
	}
}

func lastActive(room roomJSON) int64 {
	if room.LastActive == nil {
		return 0
	}
	return *room.LastActive
}
