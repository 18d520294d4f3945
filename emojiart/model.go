// Package emojiart holds the emoji art document model: placed emoji stickers,
// the canvas background, and the Document that mediates every change to them.
package emojiart

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Emoji is a sticker placed on the canvas. X and Y are offsets from the
// canvas center; identity is the ID alone.
type Emoji struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Size int    `json:"size"`
}

// Model is the persisted document state. Emojis are kept in insertion order,
// which is also the rendering order.
type Model struct {
	Emojis     []Emoji
	Background Background

	lastID int
}

// SampleModel returns the document every new canvas used to start with.
func SampleModel() Model {
	var m Model
	m.AddEmoji("🏀", -100, -200, 40)
	m.AddEmoji("🐐", 50, 100, 80)
	return m
}

// AddEmoji appends an emoji with a fresh id and returns it.
func (m *Model) AddEmoji(text string, x, y, size int) Emoji {
	m.lastID++
	emoji := Emoji{ID: m.lastID, Text: text, X: x, Y: y, Size: size}
	m.Emojis = append(m.Emojis, emoji)
	return emoji
}

// RemoveEmoji reports whether an emoji with the id was present.
func (m *Model) RemoveEmoji(id int) bool {
	i, ok := m.Index(id)
	if !ok {
		return false
	}
	m.Emojis = slices.Delete(m.Emojis, i, i+1)
	return true
}

// Index locates an emoji by id for in-place mutation.
func (m *Model) Index(id int) (int, bool) {
	for i := range m.Emojis {
		if m.Emojis[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// SetBackground replaces the background; it does not start a fetch.
func (m *Model) SetBackground(b Background) {
	m.Background = b
}

// Clone returns a copy that shares nothing mutable with m.
func (m Model) Clone() Model {
	m.Emojis = slices.Clone(m.Emojis)
	return m
}

type modelJSON struct {
	Emojis     []Emoji    `json:"emojis"`
	Background Background `json:"background"`
	LastID     int        `json:"lastId"`
}

func (m Model) MarshalJSON() ([]byte, error) {
	emojis := m.Emojis
	if emojis == nil {
		emojis = []Emoji{}
	}
	return json.Marshal(modelJSON{Emojis: emojis, Background: m.Background, LastID: m.lastID})
}

func (m *Model) UnmarshalJSON(raw []byte) error {
	var wire modelJSON
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	seen := make(map[int]struct{}, len(wire.Emojis))
	lastID := wire.LastID
	for _, e := range wire.Emojis {
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("duplicate emoji id %d", e.ID)
		}
		seen[e.ID] = struct{}{}
		lastID = max(lastID, e.ID)
	}
	m.Emojis = wire.Emojis
	m.Background = wire.Background
	m.lastID = lastID
	return nil
}
