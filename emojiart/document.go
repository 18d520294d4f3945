package emojiart

import (
	"context"
	"image"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FetchStatus tracks background resolution.
type FetchStatus int

const (
	FetchIdle FetchStatus = iota
	FetchFetching
)

func (s FetchStatus) String() string {
	if s == FetchFetching {
		return "fetching"
	}
	return "idle"
}

func (s FetchStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Intent names the mutation that produced a Change.
type Intent string

const (
	IntentSetBackground      Intent = "setBackground"
	IntentAddEmoji           Intent = "addEmoji"
	IntentMoveEmoji          Intent = "moveEmoji"
	IntentScaleEmoji         Intent = "scaleEmoji"
	IntentRemoveEmoji        Intent = "removeEmoji"
	IntentBackgroundResolved Intent = "backgroundResolved"
)

// ChangesModel is false for intents that only touch transient state.
func (i Intent) ChangesModel() bool {
	return i != IntentBackgroundResolved
}

// State is a point-in-time copy of everything a view renders.
type State struct {
	Model           Model
	BackgroundImage image.Image
	FetchStatus     FetchStatus
}

type Change struct {
	Intent Intent
	State  State
}

// Observer is called after every successful mutation, in mutation order.
type Observer func(Change)

// DefaultFetchTimeout bounds a single background download.
const DefaultFetchTimeout = 30 * time.Second

type Option func(*Document)

func WithModel(m Model) Option {
	return func(d *Document) { d.model = m.Clone() }
}

func WithFetcher(f Fetcher) Option {
	return func(d *Document) { d.fetcher = f }
}

func WithDecoder(dec Decoder) Option {
	return func(d *Document) { d.decode = dec }
}

// WithFetchTimeout sets the per-fetch timeout; zero disables it.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(d *Document) { d.timeout = timeout }
}

func WithLogger(log *logrus.Entry) Option {
	return func(d *Document) { d.log = log }
}

type subscription struct {
	id int
	fn Observer
}

// Document owns a Model and is the single entry point for changing it.
// The mutex is the owning context: intents and fetch completions both
// apply their effects while holding it.
type Document struct {
	mu     sync.Mutex
	model  Model
	image  image.Image
	status FetchStatus
	closed bool

	fetcher Fetcher
	decode  Decoder
	timeout time.Duration
	log     *logrus.Entry

	ctx     context.Context
	cancel  context.CancelFunc
	fetches sync.WaitGroup

	// changes waiting for delivery; one goroutine drains at a time so
	// observers see them in mutation order without holding mu
	pending  []Change
	draining bool

	obsMu        sync.Mutex
	observers    []subscription
	nextObserver int
}

// NewDocument builds a document and starts resolving its background, if any.
func NewDocument(opts ...Option) *Document {
	d := &Document{
		fetcher: &HTTPFetcher{},
		decode:  DecodeImage,
		timeout: DefaultFetchTimeout,
		log:     logrus.WithField("component", "document"),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(d)
	}

	d.mu.Lock()
	if d.model.Background.Kind() != BackgroundNone {
		d.resolveBackgroundLocked()
	}
	d.mu.Unlock()
	return d
}

// Subscribe registers fn and returns a function that removes it.
func (d *Document) Subscribe(fn Observer) (unsubscribe func()) {
	d.obsMu.Lock()
	d.nextObserver++
	id := d.nextObserver
	d.observers = append(d.observers, subscription{id: id, fn: fn})
	d.obsMu.Unlock()

	return func() {
		d.obsMu.Lock()
		defer d.obsMu.Unlock()
		d.observers = slices.DeleteFunc(d.observers, func(s subscription) bool { return s.id == id })
	}
}

// mutate applies fn under the document lock and, when fn reports a change,
// queues it for observers. Delivery happens outside the lock.
func (d *Document) mutate(intent Intent, fn func() bool) bool {
	d.mu.Lock()
	if !fn() {
		d.mu.Unlock()
		return false
	}
	d.pending = append(d.pending, Change{Intent: intent, State: d.stateLocked()})
	if d.draining {
		d.mu.Unlock()
		return true
	}
	d.draining = true
	for len(d.pending) > 0 {
		batch := d.pending
		d.pending = nil
		d.mu.Unlock()
		d.deliver(batch)
		d.mu.Lock()
	}
	d.draining = false
	d.mu.Unlock()
	return true
}

func (d *Document) deliver(changes []Change) {
	d.obsMu.Lock()
	observers := slices.Clone(d.observers)
	d.obsMu.Unlock()
	for _, change := range changes {
		for _, s := range observers {
			s.fn(change)
		}
	}
}

// SetBackground installs b. A background different from the current one
// discards the cached image and resolves b.
func (d *Document) SetBackground(b Background) {
	d.mutate(IntentSetBackground, func() bool {
		if d.model.Background.Equal(b) {
			return false
		}
		d.model.SetBackground(b)
		d.log.WithField("background", b.String()).Info("Background set")
		d.resolveBackgroundLocked()
		return true
	})
}

// AddEmoji places text at (x, y); size is truncated toward zero.
func (d *Document) AddEmoji(text string, x, y int, size float64) Emoji {
	var emoji Emoji
	d.mutate(IntentAddEmoji, func() bool {
		emoji = d.model.AddEmoji(text, x, y, int(size))
		d.log.WithField("emoji_id", emoji.ID).Debug("Emoji added")
		return true
	})
	return emoji
}

// MoveEmoji offsets an emoji by the rounded deltas. It reports false when the
// emoji no longer exists.
func (d *Document) MoveEmoji(id int, dx, dy float64) bool {
	return d.mutate(IntentMoveEmoji, func() bool {
		i, ok := d.model.Index(id)
		if !ok {
			return false
		}
		d.model.Emojis[i].X += int(math.Round(dx))
		d.model.Emojis[i].Y += int(math.Round(dy))
		return true
	})
}

// ScaleEmoji sets size to round(size * factor), ties away from zero.
func (d *Document) ScaleEmoji(id int, factor float64) bool {
	return d.mutate(IntentScaleEmoji, func() bool {
		i, ok := d.model.Index(id)
		if !ok {
			return false
		}
		e := &d.model.Emojis[i]
		e.Size = int(math.Round(float64(e.Size) * factor))
		return true
	})
}

func (d *Document) RemoveEmoji(id int) bool {
	return d.mutate(IntentRemoveEmoji, func() bool {
		return d.model.RemoveEmoji(id)
	})
}

func (d *Document) Emojis() []Emoji {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.model.Emojis)
}

func (d *Document) Background() Background {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.model.Background
}

// BackgroundImage is nil until the background has been decoded.
func (d *Document) BackgroundImage() image.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.image
}

func (d *Document) FetchStatus() FetchStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Document) Model() Model {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.model.Clone()
}

func (d *Document) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateLocked()
}

// Wait blocks until every background fetch started so far has completed.
func (d *Document) Wait() {
	d.fetches.Wait()
}

// Close aborts outstanding fetches; their results are dropped.
func (d *Document) Close() {
	d.mu.Lock()
	d.closed = true
	d.cancel()
	d.mu.Unlock()
	d.fetches.Wait()
}

func (d *Document) stateLocked() State {
	return State{
		Model:           d.model.Clone(),
		BackgroundImage: d.image,
		FetchStatus:     d.status,
	}
}

func (d *Document) resolveBackgroundLocked() {
	d.image = nil
	d.status = FetchIdle

	switch d.model.Background.Kind() {
	case BackgroundURL:
		if d.closed {
			return
		}
		u, _ := d.model.Background.URL()
		d.status = FetchFetching
		d.startFetchLocked(u)
	case BackgroundImageData:
		data, _ := d.model.Background.ImageData()
		img, err := d.decode(data)
		if err != nil {
			d.log.WithError(err).Warn("Failed to decode background image data")
			return
		}
		d.image = img
	}
}

func (d *Document) startFetchLocked(u string) {
	log := d.log.WithField("url", u)
	log.Debug("Fetching background image")

	d.fetches.Add(1)
	go func() {
		defer d.fetches.Done()

		ctx := d.ctx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}

		data, err := d.fetcher.Fetch(ctx, u)
		var img image.Image
		if err == nil {
			img, err = d.decode(data)
		}
		d.finishFetch(u, img, err)
	}()
}

func (d *Document) finishFetch(u string, img image.Image, err error) {
	log := d.log.WithField("url", u)
	d.mutate(IntentBackgroundResolved, func() bool {
		if d.closed {
			return false
		}
		if current, ok := d.model.Background.URL(); !ok || current != u {
			log.Debug("Discarding stale background fetch result")
			return false
		}
		d.status = FetchIdle
		if err != nil {
			log.WithError(err).Warn("Background image fetch failed")
			return true
		}
		d.image = img
		log.Info("Background image fetched")
		return true
	})
}
