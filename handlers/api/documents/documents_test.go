package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"emojiart-server/core"
	"emojiart-server/emojiart"
	"emojiart-server/sessions"
	"emojiart-server/stores/memory"

	"github.com/go-chi/chi/v5"
)

func staticFetcher(ctx context.Context, url string) ([]byte, error) {
	return []byte(url), nil
}

// lengthDecoder turns any payload into an image as wide as the payload.
func lengthDecoder(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return image.NewRGBA(image.Rect(0, 0, len(data), 2)), nil
}

func newTestManager(t *testing.T) *sessions.Manager {
	t.Helper()
	m := sessions.NewManager(memory.NewStore(), sessions.WithDocumentOptions(
		emojiart.WithFetcher(emojiart.FetcherFunc(staticFetcher)),
		emojiart.WithDecoder(lengthDecoder),
	))
	t.Cleanup(m.Shutdown)
	return m
}

func newTestRouter(s Sessions) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/api/documents/", HandleCreate(s))
	r.Post("/api/documents/import", HandleImport(s))
	r.Route("/api/documents/{id}", func(r chi.Router) {
		r.Get("/", HandleGet(s))
		r.Delete("/", HandleDelete(s))
		r.Get("/export", HandleExport(s))
		r.Post("/drop", HandleDrop(s))
		r.Put("/background", HandleSetBackground(s))
		r.Get("/background", HandleGetBackgroundImage(s))
		r.Post("/emojis", HandleAddEmoji(s))
		r.Post("/emojis/{emojiId}/move", HandleMoveEmoji(s))
		r.Post("/emojis/{emojiId}/scale", HandleScaleEmoji(s))
		r.Delete("/emojis/{emojiId}", HandleRemoveEmoji(s))
	})
	return r
}

// stateResponse mirrors sessions.StateView with the status as text.
type stateResponse struct {
	ID                  string              `json:"id"`
	Emojis              []emojiart.Emoji    `json:"emojis"`
	Background          emojiart.Background `json:"background"`
	FetchStatus         string              `json:"fetchStatus"`
	HasBackgroundImage  bool                `json:"hasBackgroundImage"`
	BackgroundImageSize *sessions.ImageSize `json:"backgroundImageSize"`
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func createDocument(t *testing.T, h http.Handler, sample bool) string {
	t.Helper()
	path := "/api/documents/"
	if sample {
		path += "?sample=true"
	}
	rec := do(t, h, http.MethodPost, path, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create status = %d, want %d", rec.Code, http.StatusCreated)
	}
	resp := decode[DocumentCreateResponse](t, rec)
	if resp.ID == "" {
		t.Fatal("Response ID is empty")
	}
	return resp.ID
}

func TestHandleCreate(t *testing.T) {
	h := newTestRouter(newTestManager(t))

	testCases := []struct {
		name       string
		sample     bool
		wantEmojis int
	}{
		{"empty", false, 0},
		{"sample", true, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id := createDocument(t, h, tc.sample)

			rec := do(t, h, http.MethodGet, "/api/documents/"+id+"/", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("Get status = %d, want %d", rec.Code, http.StatusOK)
			}
			state := decode[stateResponse](t, rec)
			if state.ID != id {
				t.Errorf("ID = %q, want %q", state.ID, id)
			}
			if len(state.Emojis) != tc.wantEmojis {
				t.Errorf("Expected %d emojis, got %d", tc.wantEmojis, len(state.Emojis))
			}
			if state.Background.Kind() != emojiart.BackgroundNone {
				t.Errorf("Background = %v, want none", state.Background)
			}
			if state.FetchStatus != "idle" {
				t.Errorf("FetchStatus = %q, want idle", state.FetchStatus)
			}
		})
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	h := newTestRouter(newTestManager(t))

	rec := do(t, h, http.MethodGet, "/api/documents/missing/", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNotFound)
	}
	body := decode[map[string]string](t, rec)
	if body["error"] != "Document not found" {
		t.Errorf("Unexpected error body: %v", body)
	}
}

func TestHandleAddEmoji(t *testing.T) {
	h := newTestRouter(newTestManager(t))
	id := createDocument(t, h, false)

	rec := do(t, h, http.MethodPost, "/api/documents/"+id+"/emojis", `{"text":"🚀","x":10,"y":-20,"size":40.9}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusCreated)
	}
	emoji := decode[emojiart.Emoji](t, rec)
	if emoji.Text != "🚀" || emoji.X != 10 || emoji.Y != -20 || emoji.Size != 40 {
		t.Errorf("Added emoji = %+v, want 🚀 at (10, -20) size 40", emoji)
	}

	state := decode[stateResponse](t, do(t, h, http.MethodGet, "/api/documents/"+id+"/", ""))
	if len(state.Emojis) != 1 || state.Emojis[0] != emoji {
		t.Errorf("Emojis = %+v, want [%+v]", state.Emojis, emoji)
	}
}

func TestHandleAddEmoji_Invalid(t *testing.T) {
	h := newTestRouter(newTestManager(t))
	id := createDocument(t, h, false)

	testCases := []struct {
		name string
		body string
	}{
		{"plain text", `{"text":"a","x":0,"y":0,"size":40}`},
		{"two emojis", `{"text":"🚀🚀","x":0,"y":0,"size":40}`},
		{"empty text", `{"text":"","x":0,"y":0,"size":40}`},
		{"zero size", `{"text":"🚀","x":0,"y":0,"size":0}`},
		{"malformed", `{"text":`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/documents/"+id+"/emojis", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleMoveAndScaleEmoji(t *testing.T) {
	h := newTestRouter(newTestManager(t))
	id := createDocument(t, h, true)
	base := "/api/documents/" + id + "/emojis/"

	rec := do(t, h, http.MethodPost, base+"1/move", `{"dx":10.4,"dy":-5.6}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Move status = %d, want %d", rec.Code, http.StatusOK)
	}
	state := decode[stateResponse](t, rec)
	if state.Emojis[0].X != -90 || state.Emojis[0].Y != -206 {
		t.Errorf("Moved emoji at (%d, %d), want (-90, -206)", state.Emojis[0].X, state.Emojis[0].Y)
	}

	rec = do(t, h, http.MethodPost, base+"2/scale", `{"factor":1.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Scale status = %d, want %d", rec.Code, http.StatusOK)
	}
	state = decode[stateResponse](t, rec)
	if state.Emojis[1].Size != 120 {
		t.Errorf("Scaled size = %d, want 120", state.Emojis[1].Size)
	}
}

func TestHandleMoveAndScaleEmoji_Errors(t *testing.T) {
	h := newTestRouter(newTestManager(t))
	id := createDocument(t, h, true)
	base := "/api/documents/" + id + "/emojis/"

	testCases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"move missing emoji", base + "99/move", `{"dx":1,"dy":1}`, http.StatusNotFound},
		{"scale missing emoji", base + "99/scale", `{"factor":2}`, http.StatusNotFound},
		{"bad emoji id", base + "abc/move", `{"dx":1,"dy":1}`, http.StatusBadRequest},
		{"zero factor", base + "1/scale", `{"factor":0}`, http.StatusBadRequest},
		{"negative factor", base + "1/scale", `{"factor":-2}`, http.StatusBadRequest},
		{"missing document", "/api/documents/nope/emojis/1/move", `{"dx":1,"dy":1}`, http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tc.path, tc.body)
			if rec.Code != tc.want {
				t.Errorf("Status code mismatch: got %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestHandleRemoveEmoji_Idempotent(t *testing.T) {
	h := newTestRouter(newTestManager(t))
	id := createDocument(t, h, true)

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodDelete, "/api/documents/"+id+"/emojis/1", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("Remove #%d status = %d, want %d", i+1, rec.Code, http.StatusNoContent)
		}
	}

	state := decode[stateResponse](t, do(t, h, http.MethodGet, "/api/documents/"+id+"/", ""))
	if len(state.Emojis) != 1 || state.Emojis[0].ID != 2 {
		t.Errorf("Emojis = %+v, want only id 2", state.Emojis)
	}
}

func TestHandleSetBackground_URL(t *testing.T) {
	m := newTestManager(t)
	h := newTestRouter(m)
	id := createDocument(t, h, false)

	rec := do(t, h, http.MethodPut, "/api/documents/"+id+"/background", `{"kind":"url","url":"https://example.com/a.png"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusAccepted)
	}
	state := decode[stateResponse](t, rec)
	if u, ok := state.Background.URL(); !ok || u != "https://example.com/a.png" {
		t.Errorf("Background = %v, want url", state.Background)
	}

	doc, err := m.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	doc.Wait()

	state = decode[stateResponse](t, do(t, h, http.MethodGet, "/api/documents/"+id+"/", ""))
	if state.FetchStatus != "idle" || !state.HasBackgroundImage {
		t.Fatalf("After fetch: status %q, hasImage %v", state.FetchStatus, state.HasBackgroundImage)
	}
	want := len("https://example.com/a.png")
	if state.BackgroundImageSize == nil || state.BackgroundImageSize.Width != want {
		t.Errorf("BackgroundImageSize = %+v, want width %d", state.BackgroundImageSize, want)
	}
}

func TestHandleSetBackground_Invalid(t *testing.T) {
	h := newTestRouter(newTestManager(t))
	id := createDocument(t, h, false)

	rec := do(t, h, http.MethodPut, "/api/documents/"+id+"/background", `{"kind":"url"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleGetBackgroundImage(t *testing.T) {
	h := newTestRouter(newTestManager(t))
	id := createDocument(t, h, false)
	path := "/api/documents/" + id + "/background"

	if rec := do(t, h, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Without background: got %d, want %d", rec.Code, http.StatusNotFound)
	}

	// "aGVsbG8=" is base64 for a five byte payload.
	rec := do(t, h, http.MethodPut, "/api/documents/"+id+"/background", `{"kind":"imageData","data":"aGVsbG8="}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Set background status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("Response is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 5 || img.Bounds().Dy() != 2 {
		t.Errorf("Image bounds = %v, want 5x2", img.Bounds())
	}
}

func TestHandleDrop(t *testing.T) {
	h := newTestRouter(newTestManager(t))
	id := createDocument(t, h, false)
	path := "/api/documents/" + id + "/drop"

	body := `{"text":"🐶 woof","x":300,"y":100,"viewport":{"width":400,"height":400,"zoom":2}}`
	rec := do(t, h, http.MethodPost, path, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decode[DropResponse](t, rec)
	if resp.Kind != "emoji" || resp.Emoji == nil {
		t.Fatalf("Drop response = %+v, want emoji", resp)
	}
	if resp.Emoji.Text != "🐶" || resp.Emoji.X != 50 || resp.Emoji.Y != -50 || resp.Emoji.Size != 20 {
		t.Errorf("Dropped emoji = %+v, want 🐶 at (50, -50) size 20", *resp.Emoji)
	}

	rec = do(t, h, http.MethodPost, path, `{"url":"https://example.com/b.png","viewport":{"width":400,"height":400}}`)
	if resp := decode[DropResponse](t, rec); resp.Kind != "url" || resp.Emoji != nil {
		t.Errorf("URL drop response = %+v", resp)
	}

	rec = do(t, h, http.MethodPost, path, `{"text":"plain","viewport":{"width":400,"height":400}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Nothing to drop: got %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestHandleExportImport(t *testing.T) {
	h := newTestRouter(newTestManager(t))
	id := createDocument(t, h, true)

	rec := do(t, h, http.MethodGet, "/api/documents/"+id+"/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Export status = %d, want %d", rec.Code, http.StatusOK)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, id) {
		t.Errorf("Content-Disposition = %q, want it to name %s", cd, id)
	}
	exported := rec.Body.String()

	rec = do(t, h, http.MethodPost, "/api/documents/import", exported)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Import status = %d, want %d", rec.Code, http.StatusCreated)
	}
	imported := decode[DocumentCreateResponse](t, rec)
	if imported.ID == id {
		t.Error("Import should create a new document")
	}

	state := decode[stateResponse](t, do(t, h, http.MethodGet, "/api/documents/"+imported.ID+"/", ""))
	if len(state.Emojis) != 2 || state.Emojis[1].Text != "🐐" {
		t.Errorf("Imported emojis = %+v", state.Emojis)
	}
}

func TestHandleImport_Invalid(t *testing.T) {
	h := newTestRouter(newTestManager(t))

	rec := do(t, h, http.MethodPost, "/api/documents/import", `{"emojis":[{"id":1},{"id":1}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleDelete(t *testing.T) {
	h := newTestRouter(newTestManager(t))
	id := createDocument(t, h, false)

	if rec := do(t, h, http.MethodDelete, "/api/documents/"+id+"/", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("Delete status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec := do(t, h, http.MethodGet, "/api/documents/"+id+"/", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Get after delete = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec := do(t, h, http.MethodDelete, "/api/documents/"+id+"/", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Second delete = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// failingSessions fails every operation with a storage error.
type failingSessions struct{}

var errStorage = errors.New("disk on fire")

func (failingSessions) Create(context.Context, emojiart.Model) (string, *emojiart.Document, error) {
	return "", nil, errStorage
}

func (failingSessions) Import(context.Context, []byte) (string, *emojiart.Document, error) {
	return "", nil, errStorage
}

func (failingSessions) Open(context.Context, string) (*emojiart.Document, error) {
	return nil, errStorage
}

func (failingSessions) Export(context.Context, string) ([]byte, error) {
	return nil, errStorage
}

func (failingSessions) Delete(context.Context, string) error {
	return errStorage
}

func TestHandlers_StorageErrors(t *testing.T) {
	h := newTestRouter(failingSessions{})

	testCases := []struct {
		name   string
		method string
		path   string
	}{
		{"create", http.MethodPost, "/api/documents/"},
		{"get", http.MethodGet, "/api/documents/x/"},
		{"export", http.MethodGet, "/api/documents/x/export"},
		{"delete", http.MethodDelete, "/api/documents/x/"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, "")
			if rec.Code != http.StatusInternalServerError {
				t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusInternalServerError)
			}
		})
	}
}

func TestHandleGet_RouteContext(t *testing.T) {
	m := newTestManager(t)
	id, _, err := m.Create(context.Background(), emojiart.SampleModel())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()

	HandleGet(m)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

type stubRooms struct {
	rooms []core.Room
	err   error
}

func (s stubRooms) ListRooms(context.Context) ([]core.Room, error) {
	return s.rooms, s.err
}

func (s stubRooms) TouchRoom(context.Context, string) error {
	return nil
}

func TestHandleListRooms(t *testing.T) {
	rooms := stubRooms{rooms: []core.Room{
		{ID: "old", LastActive: 100},
		{ID: "recent", LastActive: 300},
		{ID: "live", LastActive: 200},
	}}
	active := func() map[string]int {
		return map[string]int{"live": 2, "fresh": 1}
	}

	rec := httptest.NewRecorder()
	HandleListRooms(rooms, active)(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	list := decode[[]roomJSON](t, rec)
	want := []string{"live", "fresh", "recent", "old"}
	if len(list) != len(want) {
		t.Fatalf("Expected %d rooms, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("rooms[%d] = %s, want %s", i, list[i].ID, id)
		}
	}
	if list[0].Users != 2 || list[0].LastActive == nil || *list[0].LastActive != 200 {
		t.Errorf("Live room = %+v", list[0])
	}
	if list[1].LastActive != nil {
		t.Error("Room without registry entry should have no lastActive")
	}
}

func TestHandleListRooms_RegistryError(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleListRooms(stubRooms{err: errors.New("boom")}, nil)(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("Body = %s, want []", rec.Body.String())
	}
}
