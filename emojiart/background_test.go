package emojiart

import (
	"encoding/json"
	"testing"
)

func TestBackgroundEqual(t *testing.T) {
	testCases := []struct {
		name string
		a, b Background
		want bool
	}{
		{"none", NoBackground(), NoBackground(), true},
		{"zero value is none", Background{}, NoBackground(), true},
		{"same url", URLBackground("https://a"), URLBackground("https://a"), true},
		{"different url", URLBackground("https://a"), URLBackground("https://b"), false},
		{"same data", ImageDataBackground([]byte{1, 2}), ImageDataBackground([]byte{1, 2}), true},
		{"different data", ImageDataBackground([]byte{1, 2}), ImageDataBackground([]byte{2, 1}), false},
		{"url vs none", URLBackground("https://a"), NoBackground(), false},
		{"url vs data", URLBackground("https://a"), ImageDataBackground([]byte("https://a")), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Equal(tc.b); got != tc.want {
				t.Errorf("Equal() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestImageDataBackground_CopiesInput(t *testing.T) {
	data := []byte{1, 2, 3}
	b := ImageDataBackground(data)
	data[0] = 9

	got, ok := b.ImageData()
	if !ok {
		t.Fatal("ImageData() reported wrong kind")
	}
	if got[0] != 1 {
		t.Error("Background shares storage with caller's slice")
	}
}

func TestBackgroundJSON(t *testing.T) {
	testCases := []struct {
		name string
		bg   Background
		want string
	}{
		{"none", NoBackground(), `{"kind":"none"}`},
		{"url", URLBackground("https://example.com/x.png"), `{"kind":"url","url":"https://example.com/x.png"}`},
		{"imageData", ImageDataBackground([]byte("hi")), `{"kind":"imageData","data":"aGk="}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.bg)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(data) != tc.want {
				t.Errorf("Marshal = %s, want %s", data, tc.want)
			}

			var decoded Background
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if !decoded.Equal(tc.bg) {
				t.Errorf("Decoded %v, want %v", decoded, tc.bg)
			}
		})
	}
}

func TestParseBackground_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		kind string
		url  string
		data []byte
	}{
		{"url without url", "url", "", nil},
		{"imageData without data", "imageData", "", nil},
		{"unknown kind", "video", "", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseBackground(tc.kind, tc.url, tc.data); err == nil {
				t.Error("ParseBackground() should fail")
			}
		})
	}
}
