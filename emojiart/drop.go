package emojiart

import (
	"errors"
	"net/url"
	"unicode"

	"github.com/rivo/uniseg"
)

// Drop is content dropped or pasted onto the canvas. Resolution prefers
// URL, then image data, then text.
type Drop struct {
	URL       string
	ImageData []byte
	Text      string
}

type DropKind int

const (
	DropNone DropKind = iota
	DropURL
	DropImageData
	DropEmoji
)

// ErrNothingToDrop is returned when no part of a Drop is usable.
var ErrNothingToDrop = errors.New("drop carries no url, image or emoji")

// ResolvedDrop is the single action a Drop turns into.
type ResolvedDrop struct {
	Kind       DropKind
	Background Background
	Emoji      string

	// Added is filled in by Viewport.Drop for DropEmoji.
	Added Emoji
}

// Resolve picks the action for d. URLs are unwrapped with CanonicalImageURL;
// text must start with an emoji grapheme, which is the only part kept.
func (d Drop) Resolve() (ResolvedDrop, error) {
	if d.URL != "" {
		if u, err := url.Parse(d.URL); err == nil && u.Scheme != "" {
			return ResolvedDrop{Kind: DropURL, Background: URLBackground(CanonicalImageURL(u).String())}, nil
		}
	}
	if len(d.ImageData) > 0 {
		return ResolvedDrop{Kind: DropImageData, Background: ImageDataBackground(d.ImageData)}, nil
	}
	if first := FirstGrapheme(d.Text); first != "" && IsEmoji(first) {
		return ResolvedDrop{Kind: DropEmoji, Emoji: first}, nil
	}
	return ResolvedDrop{}, ErrNothingToDrop
}

// FirstGrapheme returns the first user-perceived character of s.
func FirstGrapheme(s string) string {
	cluster, _, _, _ := uniseg.FirstGraphemeClusterInString(s, -1)
	return cluster
}

// IsEmoji reports whether the grapheme cluster g renders as an emoji. Single
// code points below U+238D (digits, #, © and the like) only count when they
// carry a modifier such as a variation selector.
func IsEmoji(g string) bool {
	runes := []rune(g)
	if len(runes) == 0 || !unicode.Is(emojiTable, runes[0]) {
		return false
	}
	return runes[0] >= 0x238d || len(runes) > 1
}
