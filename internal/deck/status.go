/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package deck

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Info is one channel's point-in-time status for polling clients.
type Info struct {
	Channel        string `json:"channel"`
	Mode           Mode   `json:"mode"` // derived effective mode
	DJConnected    bool   `json:"dj_connected"`
	AutoDJEnabled  bool   `json:"autodj_enabled"`
	AutoDJActive   bool   `json:"autodj_active"`
	TrackName      string `json:"track_name,omitempty"`
	NowPlaying     string `json:"now_playing,omitempty"`
	Looping        bool   `json:"looping"`
	PlaylistLength int    `json:"playlist_length"`
	PlaylistIndex  int    `json:"playlist_index"`
	PlaylistLoop   bool   `json:"playlist_loop"`
	StreamURL      string `json:"stream_url"`
}

// LivePresence reports whether a live ingestion connection is attached to a
// channel. Attachment starts at connection time, before any frame arrived.
type LivePresence interface {
	Attached(channelID string) bool
}

// Aggregator assembles deck status snapshots. It is read-only and builds
// every snapshot fresh; the only caching is the channels' own in-memory
// fields.
type Aggregator struct {
	ctrl      *Controller
	bridge    Bridge
	presence  LivePresence
	publicURL string
	logger    zerolog.Logger
}

// NewAggregator creates the status aggregator. publicURL is the listener
// facing base URL of the broadcast engine.
func NewAggregator(ctrl *Controller, bridge Bridge, presence LivePresence, publicURL string, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		ctrl:      ctrl,
		bridge:    bridge,
		presence:  presence,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.With().Str("component", "status").Logger(),
	}
}

// Snapshot reports what every channel is doing right now. Channels are
// queried concurrently so a dead engine costs one timeout, not one per deck.
func (a *Aggregator) Snapshot(ctx context.Context) []Info {
	infos := make([]Info, len(a.ctrl.order))
	var wg sync.WaitGroup
	for i, id := range a.ctrl.order {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			infos[i] = a.channelInfo(ctx, id)
		}(i, id)
	}
	wg.Wait()
	return infos
}

func (a *Aggregator) channelInfo(ctx context.Context, channelID string) Info {
	ch := a.ctrl.channels[channelID]

	ch.mu.Lock()
	info := Info{
		Channel:        channelID,
		Mode:           ch.effectiveModeLocked(),
		AutoDJEnabled:  ch.autoDJEnabled,
		TrackName:      ch.trackName,
		Looping:        ch.looping,
		PlaylistLength: len(ch.playlist),
		PlaylistIndex:  ch.playlistIndex,
		PlaylistLoop:   ch.playlistLoop,
	}
	liveActive := ch.liveActive
	ch.mu.Unlock()

	// A DJ counts as connected from the moment the connection is attached,
	// even before the first frame promoted the channel to live.
	if a.presence != nil {
		info.DJConnected = a.presence.Attached(channelID)
	} else {
		info.DJConnected = liveActive
	}

	info.AutoDJActive = info.Mode == ModeAutoDJ
	info.StreamURL = a.publicURL + "/" + channelID

	// Best effort: the engine's metadata beats our last explicit intent,
	// but an unreachable engine never fails the query.
	now, err := a.bridge.NowPlaying(ctx, channelID)
	if err != nil {
		a.logger.Debug().Err(err).Str("channel", channelID).Msg("now-playing query failed")
	}
	if now == "" {
		now = info.TrackName
	}
	info.NowPlaying = now

	return info
}
