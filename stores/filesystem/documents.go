package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"emojiart-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Store keeps one file per document under basePath, named by document id.
type Store struct {
	basePath string
}

func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// documentPath rejects ids that would resolve outside basePath.
func (s *Store) documentPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid document id %q", id)
	}
	return filepath.Join(s.basePath, id), nil
}

func (s *Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	filePath, err := s.documentPath(id)
	if err != nil {
		log.WithError(err).Warn("Rejected document id")
		return nil, core.DocumentNotFound(id)
	}

	log.WithField("file_path", filePath).Debug("Retrieving document by ID")
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, core.DocumentNotFound(id)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}

	return &core.Document{Data: *bytes.NewBuffer(data)}, nil
}

func (s *Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	filePath := filepath.Join(s.basePath, id)
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"file_path":   filePath,
	})

	if err := os.WriteFile(filePath, document.Data.Bytes(), 0644); err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}

	log.Info("Document created successfully")
	return id, nil
}

// Update replaces the file through a rename so readers never see a partial
// write.
func (s *Store) Update(ctx context.Context, id string, document *core.Document) error {
	filePath, err := s.documentPath(id)
	if err != nil {
		return core.DocumentNotFound(id)
	}
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"file_path":   filePath,
	})

	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.DocumentNotFound(id)
		}
		return err
	}

	tmp, err := os.CreateTemp(s.basePath, "."+id+"-*")
	if err != nil {
		log.WithError(err).Error("Failed to create temp file")
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(document.Data.Bytes()); err != nil {
		tmp.Close()
		log.WithError(err).Error("Failed to write document")
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		log.WithError(err).Error("Failed to replace document")
		return err
	}

	log.Debug("Document updated successfully")
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	filePath, err := s.documentPath(id)
	if err != nil {
		return core.DocumentNotFound(id)
	}
	log := logrus.WithFields(logrus.Fields{"document_id": id, "file_path": filePath})

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.DocumentNotFound(id)
		}
		log.WithError(err).Error("Failed to delete document")
		return err
	}

	log.Info("Document deleted successfully")
	return nil
}
