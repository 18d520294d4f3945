package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"emojiart-server/emojiart"

	"github.com/go-chi/cors"
)

const defaultFetchTimeout = 30 * time.Second

type config struct {
	JWTSecret      []byte
	AllowedOrigins []string
	FetchTimeout   time.Duration
	FetchMaxBytes  int64

	// FetchAllowPrivate lets background fetches reach loopback, private and
	// link-local addresses.
	FetchAllowPrivate bool
}

func loadConfig() (config, error) {
	cfg := config{
		JWTSecret:     []byte(os.Getenv("JWT_SECRET")),
		FetchTimeout:  defaultFetchTimeout,
		FetchMaxBytes: emojiart.DefaultMaxFetchBytes,
	}

	for _, origin := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return config{}, fmt.Errorf("invalid FETCH_TIMEOUT %q", v)
		}
		cfg.FetchTimeout = d
	}

	if v := os.Getenv("FETCH_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return config{}, fmt.Errorf("invalid FETCH_MAX_BYTES %q", v)
		}
		cfg.FetchMaxBytes = n
	}

	if v := os.Getenv("FETCH_ALLOW_PRIVATE"); v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return config{}, fmt.Errorf("invalid FETCH_ALLOW_PRIVATE %q", v)
		}
		cfg.FetchAllowPrivate = allow
	}

	return cfg, nil
}

// documentOptions configures how live documents fetch background images.
func (c config) documentOptions() []emojiart.Option {
	return []emojiart.Option{
		emojiart.WithFetcher(emojiart.NewHTTPFetcher(c.FetchTimeout, c.FetchMaxBytes, c.FetchAllowPrivate)),
		emojiart.WithFetchTimeout(c.FetchTimeout),
	}
}

func (c config) corsOptions() cors.Options {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	if len(c.AllowedOrigins) > 0 {
		opts.AllowedOrigins = c.AllowedOrigins
		return opts
	}

	opts.AllowedOrigins = []string{"tauri://localhost"}
	opts.AllowOriginFunc = localOrigin
	return opts
}

func localOrigin(r *http.Request, origin string) bool {
	if origin == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	switch parsed.Scheme {
	case "http", "https":
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	case "tauri":
		return parsed.Hostname() == "localhost"
	}

	return false
}
