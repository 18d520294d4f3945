package sessions

import "emojiart-server/emojiart"

// ImageSize is the pixel size of a decoded background.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// StateView is the wire form of a document's state sent to clients.
type StateView struct {
	ID                  string               `json:"id"`
	Emojis              []emojiart.Emoji     `json:"emojis"`
	Background          emojiart.Background  `json:"background"`
	FetchStatus         emojiart.FetchStatus `json:"fetchStatus"`
	HasBackgroundImage  bool                 `json:"hasBackgroundImage"`
	BackgroundImageSize *ImageSize           `json:"backgroundImageSize,omitempty"`
}

func View(id string, state emojiart.State) StateView {
	v := StateView{
		ID:          id,
		Emojis:      state.Model.Emojis,
		Background:  state.Model.Background,
		FetchStatus: state.FetchStatus,
	}
	if v.Emojis == nil {
		v.Emojis = []emojiart.Emoji{}
	}
	if img := state.BackgroundImage; img != nil {
		b := img.Bounds()
		v.HasBackgroundImage = true
		v.BackgroundImageSize = &ImageSize{Width: b.Dx(), Height: b.Dy()}
	}
	return v
}
