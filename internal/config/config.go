/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	// Channels is the ordered list of deck identifiers this instance serves.
	Channels []string

	// Storage
	MediaRoot    string // uploaded track library
	AnnounceRoot string // announcement audio
	StateFile    string // persisted channel state document

	// Playout engine control connection
	EngineControlAddr string
	EngineTimeout     time.Duration

	// Icecast output
	IcecastURL            string // internal URL the transcoder pushes to (e.g. http://icecast:8000)
	IcecastPublicURL      string // listener-facing base URL
	IcecastSourcePassword string

	// Live transcoding
	FFmpegBin       string
	LiveInputFormat string // container format of incoming frames (e.g. "webm")
	LiveBitrateKbps int
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("WAVEDECK_ENV", "development"),
		HTTPBind:    getEnv("WAVEDECK_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("WAVEDECK_HTTP_PORT", 8080),

		Channels: splitList(getEnv("WAVEDECK_CHANNELS", "deck1,deck2,deck3,deck4")),

		MediaRoot:    getEnv("WAVEDECK_MEDIA_ROOT", "./media"),
		AnnounceRoot: getEnv("WAVEDECK_ANNOUNCE_ROOT", "./announcements"),
		StateFile:    getEnv("WAVEDECK_STATE_FILE", "./wavedeck-state.json"),

		EngineControlAddr: getEnv("WAVEDECK_ENGINE_CONTROL_ADDR", "127.0.0.1:1234"),
		EngineTimeout:     time.Duration(getEnvInt("WAVEDECK_ENGINE_TIMEOUT_SECONDS", 3)) * time.Second,

		IcecastURL:            getEnv("WAVEDECK_ICECAST_URL", "http://icecast:8000"),
		IcecastPublicURL:      getEnv("WAVEDECK_ICECAST_PUBLIC_URL", ""),
		IcecastSourcePassword: getEnv("WAVEDECK_ICECAST_SOURCE_PASSWORD", ""),

		FFmpegBin:       getEnv("WAVEDECK_FFMPEG_BIN", "ffmpeg"),
		LiveInputFormat: getEnv("WAVEDECK_LIVE_INPUT_FORMAT", "webm"),
		LiveBitrateKbps: getEnvInt("WAVEDECK_LIVE_BITRATE_KBPS", 128),
	}

	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("WAVEDECK_CHANNELS must list at least one deck identifier")
	}
	seen := make(map[string]struct{}, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if _, dup := seen[ch]; dup {
			return nil, fmt.Errorf("WAVEDECK_CHANNELS contains duplicate deck identifier %q", ch)
		}
		seen[ch] = struct{}{}
	}

	if cfg.IcecastPublicURL == "" {
		cfg.IcecastPublicURL = cfg.IcecastURL
	}

	if cfg.LiveBitrateKbps < 8 || cfg.LiveBitrateKbps > 320 {
		return nil, fmt.Errorf("WAVEDECK_LIVE_BITRATE_KBPS must be between 8 and 320, got %d", cfg.LiveBitrateKbps)
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.IcecastSourcePassword == "" || strings.EqualFold(cfg.IcecastSourcePassword, "hackme") {
			return nil, fmt.Errorf("WAVEDECK_ICECAST_SOURCE_PASSWORD must be set to a non-default value in production")
		}
	}

	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
