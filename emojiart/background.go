package emojiart

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BackgroundKind tags the active variant of a Background.
type BackgroundKind int

const (
	BackgroundNone BackgroundKind = iota
	BackgroundURL
	BackgroundImageData
)

func (k BackgroundKind) String() string {
	switch k {
	case BackgroundURL:
		return "url"
	case BackgroundImageData:
		return "imageData"
	default:
		return "none"
	}
}

// Background describes the canvas backdrop. Exactly one variant is active;
// the zero value is NoBackground. Values are immutable once built.
type Background struct {
	kind BackgroundKind
	url  string
	data []byte
}

func NoBackground() Background {
	return Background{}
}

func URLBackground(url string) Background {
	return Background{kind: BackgroundURL, url: url}
}

// ImageDataBackground copies data so later writes by the caller cannot
// change the descriptor.
func ImageDataBackground(data []byte) Background {
	return Background{kind: BackgroundImageData, data: bytes.Clone(data)}
}

func (b Background) Kind() BackgroundKind {
	return b.kind
}

func (b Background) URL() (string, bool) {
	return b.url, b.kind == BackgroundURL
}

func (b Background) ImageData() ([]byte, bool) {
	if b.kind != BackgroundImageData {
		return nil, false
	}
	return bytes.Clone(b.data), true
}

// Equal compares by variant and payload value.
func (b Background) Equal(other Background) bool {
	if b.kind != other.kind {
		return false
	}
	switch b.kind {
	case BackgroundURL:
		return b.url == other.url
	case BackgroundImageData:
		return bytes.Equal(b.data, other.data)
	default:
		return true
	}
}

func (b Background) String() string {
	switch b.kind {
	case BackgroundURL:
		return "url(" + b.url + ")"
	case BackgroundImageData:
		return fmt.Sprintf("imageData(%d bytes)", len(b.data))
	default:
		return "none"
	}
}

type backgroundJSON struct {
	Kind string `json:"kind"`
	URL  string `json:"url,omitempty"`
	Data []byte `json:"data,omitempty"`
}

func (b Background) MarshalJSON() ([]byte, error) {
	return json.Marshal(backgroundJSON{Kind: b.kind.String(), URL: b.url, Data: b.data})
}

func (b *Background) UnmarshalJSON(raw []byte) error {
	var wire backgroundJSON
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	parsed, err := ParseBackground(wire.Kind, wire.URL, wire.Data)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBackground builds a Background from its wire form.
func ParseBackground(kind, url string, data []byte) (Background, error) {
	switch kind {
	case "", "none", "blank":
		return NoBackground(), nil
	case "url":
		if url == "" {
			return Background{}, fmt.Errorf("url background requires a url")
		}
		return URLBackground(url), nil
	case "imageData":
		if len(data) == 0 {
			return Background{}, fmt.Errorf("imageData background requires data")
		}
		return ImageDataBackground(data), nil
	default:
		return Background{}, fmt.Errorf("unknown background kind %q", kind)
	}
}
