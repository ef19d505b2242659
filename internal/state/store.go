/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// PlaylistEntry mirrors one ordered playlist item on disk.
type PlaylistEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ServerName string `json:"server_name"`
	Position   int    `json:"position"`
}

// ChannelRecord is the durable subset of a channel's state. Transient
// handles (connections, processes, live flags) are never written here.
type ChannelRecord struct {
	Mode          string          `json:"mode"`
	TrackPath     string          `json:"track_path,omitempty"`
	TrackName     string          `json:"track_name,omitempty"`
	Looping       bool            `json:"looping,omitempty"`
	Playlist      []PlaylistEntry `json:"playlist,omitempty"`
	PlaylistIndex int             `json:"playlist_index,omitempty"`
	PlaylistLoop  bool            `json:"playlist_loop,omitempty"`
	AutoDJEnabled bool            `json:"autodj_enabled"`
}

// Document is the whole on-disk state, keyed by channel identifier.
type Document map[string]ChannelRecord

// Store owns the persisted channel state document. It caches the current
// document in memory and rewrites the full file atomically on every update,
// so concurrent channel writers never produce partial or merged documents.
type Store struct {
	path   string
	logger zerolog.Logger

	mu  sync.Mutex
	doc Document
}

// NewStore opens (or initializes) the state document at path.
func NewStore(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.With().Str("component", "state").Logger(),
		doc:    make(Document),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if err := json.Unmarshal(raw, &s.doc); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	return s, nil
}

// Get returns the persisted record for a channel, if any.
func (s *Store) Get(channelID string) (ChannelRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc[channelID]
	return rec, ok
}

// Put replaces one channel's record and rewrites the whole document.
// Write failures are returned to the caller for logging; the in-memory
// document is updated regardless so it stays authoritative.
func (s *Store) Put(channelID string, rec ChannelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc[channelID] = rec
	return s.write()
}

// write persists the full document via atomic rename. Caller holds s.mu.
func (s *Store) write() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := renameio.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Int("channels", len(s.doc)).Msg("state persisted")
	return nil
}
