package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"emojiart-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Store keeps documents and the room registry in process memory.
type Store struct {
	mu        sync.RWMutex
	documents map[string][]byte
	rooms     map[string]int64
}

func NewStore() *Store {
	return &Store{
		documents: make(map[string][]byte),
		rooms:     make(map[string]int64),
	}
}

func (s *Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	s.mu.RLock()
	data, ok := s.documents[id]
	s.mu.RUnlock()

	if ok {
		log.Debug("Document retrieved successfully")
		return &core.Document{Data: *bytes.NewBuffer(bytes.Clone(data))}, nil
	}

	log.WithField("error", "document not found").Warn("Document with specified ID not found")
	return nil, core.DocumentNotFound(id)
}

func (s *Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	data := bytes.Clone(document.Data.Bytes())

	s.mu.Lock()
	s.documents[id] = data
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": len(data),
	}).Info("Document created successfully")

	return id, nil
}

func (s *Store) Update(ctx context.Context, id string, document *core.Document) error {
	data := bytes.Clone(document.Data.Bytes())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return core.DocumentNotFound(id)
	}
	s.documents[id] = data
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return core.DocumentNotFound(id)
	}
	delete(s.documents, id)
	delete(s.rooms, id)

	logrus.WithField("document_id", id).Info("Document deleted successfully")
	return nil
}

func (s *Store) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	s.mu.Lock()
	s.rooms[roomID] = time.Now().UnixMilli()
	s.mu.Unlock()

	return nil
}

func (s *Store) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.Room, 0, len(s.rooms))
	for id, last := range s.rooms {
		rooms = append(rooms, core.Room{ID: id, LastActive: last})
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})

	return rooms, nil
}
