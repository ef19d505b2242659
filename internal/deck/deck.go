/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package deck implements the per-channel broadcast state machine. Each
// channel (deck) is driven to exactly one effective mode at a time: a live
// DJ feed, a single file, an ordered playlist, or the unattended AutoDJ
// fallback. The explicit mode is persisted; live presence is transient and
// the effective mode is always derived, never stored.
package deck

import (
	"errors"
	"sync"

	"github.com/wavedeck/wavedeck/internal/state"
)

var (
	// ErrChannelNotFound indicates an unknown deck identifier.
	ErrChannelNotFound = errors.New("unknown channel")

	// ErrNotFound indicates a referenced file or track is absent.
	ErrNotFound = errors.New("track not found")

	// ErrInvalidInput indicates a malformed or out-of-range command.
	ErrInvalidInput = errors.New("invalid input")
)

// Mode is a channel's explicit or derived playout mode.
type Mode string

const (
	// ModeLive is derived only, never set or persisted explicitly.
	ModeLive     Mode = "live"
	ModeFile     Mode = "file"
	ModePlaylist Mode = "playlist"
	ModeAutoDJ   Mode = "autodj"
)

// PlaylistEntry is one ordered item in a channel's playlist.
type PlaylistEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ServerName string `json:"server_name"`
	Position   int    `json:"position"`
}

// channel holds one deck's state. All fields are guarded by mu; only the
// owning controller mutates them.
type channel struct {
	mu sync.Mutex

	id string

	// Explicit, persisted intent.
	mode          Mode // file, playlist or autodj
	trackPath     string
	trackName     string
	looping       bool
	playlist      []PlaylistEntry
	playlistIndex int
	playlistLoop  bool
	autoDJEnabled bool

	// Transient: a live ingestion session is actively transcoding.
	liveActive bool
}

// effectiveModeLocked derives the single authoritative mode. Caller holds mu.
func (c *channel) effectiveModeLocked() Mode {
	if c.liveActive {
		return ModeLive
	}
	switch c.mode {
	case ModeFile, ModePlaylist:
		return c.mode
	default:
		return ModeAutoDJ
	}
}

// recordLocked builds the durable snapshot of this channel. Caller holds mu.
// Transient live state is deliberately excluded.
func (c *channel) recordLocked() state.ChannelRecord {
	playlist := make([]state.PlaylistEntry, len(c.playlist))
	for i, e := range c.playlist {
		playlist[i] = state.PlaylistEntry{
			ID:         e.ID,
			Name:       e.Name,
			ServerName: e.ServerName,
			Position:   e.Position,
		}
	}
	return state.ChannelRecord{
		Mode:          string(c.mode),
		TrackPath:     c.trackPath,
		TrackName:     c.trackName,
		Looping:       c.looping,
		Playlist:      playlist,
		PlaylistIndex: c.playlistIndex,
		PlaylistLoop:  c.playlistLoop,
		AutoDJEnabled: c.autoDJEnabled,
	}
}

// applyRecordLocked seeds the channel from a persisted record. Caller holds mu.
func (c *channel) applyRecordLocked(rec state.ChannelRecord) {
	switch Mode(rec.Mode) {
	case ModeFile, ModePlaylist, ModeAutoDJ:
		c.mode = Mode(rec.Mode)
	default:
		c.mode = ModeAutoDJ
	}
	c.trackPath = rec.TrackPath
	c.trackName = rec.TrackName
	c.looping = rec.Looping
	c.playlistIndex = rec.PlaylistIndex
	c.playlistLoop = rec.PlaylistLoop
	c.autoDJEnabled = rec.AutoDJEnabled
	c.playlist = make([]PlaylistEntry, len(rec.Playlist))
	for i, e := range rec.Playlist {
		c.playlist[i] = PlaylistEntry{
			ID:         e.ID,
			Name:       e.Name,
			ServerName: e.ServerName,
			Position:   e.Position,
		}
	}
	// Connections and processes never survive a restart.
	c.liveActive = false
}
