// Package sessions keeps the live emojiart documents behind the HTTP and
// realtime handlers and writes their models back to the document store.
package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"emojiart-server/core"
	"emojiart-server/emojiart"

	"github.com/sirupsen/logrus"
)

// Publisher pushes document changes to connected clients.
type Publisher interface {
	Publish(documentID string, change emojiart.Change)
}

type Option func(*Manager)

func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithDocumentOptions is applied to every document the manager opens.
func WithDocumentOptions(opts ...emojiart.Option) Option {
	return func(m *Manager) { m.docOpts = append(m.docOpts, opts...) }
}

// WithPersistTimeout bounds each store write triggered by a change.
func WithPersistTimeout(d time.Duration) Option {
	return func(m *Manager) { m.persistTimeout = d }
}

type session struct {
	doc         *emojiart.Document
	unsubscribe func()
}

// Manager owns one live Document per stored document id.
type Manager struct {
	store          core.DocumentStore
	publisher      Publisher
	docOpts        []emojiart.Option
	persistTimeout time.Duration

	mu   sync.Mutex
	live map[string]*session

	// loadMu is held for reading while a document is loaded from the store
	// and for writing while one is deleted.
	loadMu sync.RWMutex
}

func NewManager(store core.DocumentStore, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		persistTimeout: 10 * time.Second,
		live:           make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores model as a new document and opens it.
func (m *Manager) Create(ctx context.Context, model emojiart.Model) (string, *emojiart.Document, error) {
	stored, err := encodeModel(model)
	if err != nil {
		return "", nil, err
	}
	id, err := m.store.Create(ctx, stored)
	if err != nil {
		return "", nil, fmt.Errorf("create document: %w", err)
	}
	doc := m.attach(id, model)
	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"emojis":      len(model.Emojis),
	}).Info("Document session created")
	return id, doc, nil
}

// Import decodes a serialized model and stores it as a new document.
func (m *Manager) Import(ctx context.Context, data []byte) (string, *emojiart.Document, error) {
	var model emojiart.Model
	if err := json.Unmarshal(data, &model); err != nil {
		return "", nil, fmt.Errorf("decode model: %w", err)
	}
	return m.Create(ctx, model)
}

// Open returns the live document for id, loading it from the store on first
// use.
func (m *Manager) Open(ctx context.Context, id string) (*emojiart.Document, error) {
	m.mu.Lock()
	s, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		return s.doc, nil
	}

	m.loadMu.RLock()
	defer m.loadMu.RUnlock()

	stored, err := m.store.FindID(ctx, id)
	if err != nil {
		return nil, err
	}
	model, err := decodeModel(stored)
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Stored document is not a valid model")
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	return m.attach(id, model), nil
}

// attach opens a live document for id unless another caller got there first.
func (m *Manager) attach(id string, model emojiart.Model) *emojiart.Document {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.live[id]; ok {
		return s.doc
	}

	opts := append([]emojiart.Option{
		emojiart.WithLogger(logrus.WithField("document_id", id)),
	}, m.docOpts...)
	opts = append(opts, emojiart.WithModel(model))
	doc := emojiart.NewDocument(opts...)

	unsubscribe := doc.Subscribe(func(change emojiart.Change) {
		if change.Intent.ChangesModel() {
			m.persist(id, change.State.Model)
		}
		if m.publisher != nil {
			m.publisher.Publish(id, change)
		}
	})
	m.live[id] = &session{doc: doc, unsubscribe: unsubscribe}
	return doc
}

func (m *Manager) persist(id string, model emojiart.Model) {
	log := logrus.WithField("document_id", id)
	stored, err := encodeModel(model)
	if err != nil {
		log.WithError(err).Error("Failed to encode document")
		return
	}

	ctx := context.Background()
	if m.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.persistTimeout)
		defer cancel()
	}
	if err := m.store.Update(ctx, id, stored); err != nil {
		log.WithError(err).Error("Failed to persist document")
	}
}

// Export serializes the current model of document id.
func (m *Manager) Export(ctx context.Context, id string) ([]byte, error) {
	doc, err := m.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc.Model())
}

// Delete removes the document from the store and then closes its live
// session, if any. Loads of id wait for the delete to finish.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.Close(id)
	logrus.WithField("document_id", id).Info("Document session deleted")
	return nil
}

// Close drops the live document for id. Its pending background fetch is
// abandoned; the stored model is unaffected.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.live[id]
	delete(m.live, id)
	m.mu.Unlock()

	if ok {
		s.unsubscribe()
		s.doc.Close()
	}
}

// Live lists the ids of open documents.
func (m *Manager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Shutdown closes every live document.
func (m *Manager) Shutdown() {
	for _, id := range m.Live() {
		m.Close(id)
	}
	logrus.Info("All document sessions closed")
}

func encodeModel(model emojiart.Model) (*core.Document, error) {
	data, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return &core.Document{Data: *bytes.NewBuffer(data)}, nil
}

func decodeModel(stored *core.Document) (emojiart.Model, error) {
	var model emojiart.Model
	if err := json.Unmarshal(stored.Data.Bytes(), &model); err != nil {
		return emojiart.Model{}, fmt.Errorf("decode model: %w", err)
	}
	return model, nil
}
