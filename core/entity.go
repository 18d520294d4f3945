package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

type (
	// Document is a serialized emoji art model as stored by a DocumentStore.
	Document struct {
		Data bytes.Buffer
	}

	DocumentStore interface {
		FindID(ctx context.Context, id string) (*Document, error)
		Create(ctx context.Context, document *Document) (string, error)
		Update(ctx context.Context, id string, document *Document) error
		Delete(ctx context.Context, id string) error
	}

	// Room is a live document channel that clients have joined.
	Room struct {
		ID         string
		LastActive int64
	}

	RoomRegistry interface {
		ListRooms(ctx context.Context) ([]Room, error)
		TouchRoom(ctx context.Context, roomID string) error
	}

	// NotFoundError reports a lookup of a missing record.
	NotFoundError struct {
		Kind string
		ID   string
	}
)

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// DocumentNotFound builds the error returned by stores for an unknown document id.
func DocumentNotFound(id string) error {
	return &NotFoundError{Kind: "document", ID: id}
}
