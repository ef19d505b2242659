/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package deck

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wavedeck/wavedeck/internal/library"
	"github.com/wavedeck/wavedeck/internal/state"
)

// Bridge is the command surface of the playout control bridge.
type Bridge interface {
	Push(ctx context.Context, channelID, path string) error
	Skip(ctx context.Context, channelID string) error
	Flush(ctx context.Context, channelID string) error
	NowPlaying(ctx context.Context, channelID string) (string, error)
}

// LiveSessions tears down live ingestion on behalf of explicit commands.
// Preempt must consume the session's demotion callback so the controller,
// which already holds the channel lock, performs the mode change itself.
type LiveSessions interface {
	Preempt(channelID string)
}

// Result reports how far a committing command reached. The in-memory and
// persisted state always reflect the command; EngineSynced is false when the
// broadcast engine could not be told yet.
type Result struct {
	EngineSynced bool   `json:"engine_synced"`
	Warning      string `json:"warning,omitempty"`
}

// TrackRequest is one entry of a LoadPlaylist command.
type TrackRequest struct {
	ServerName string `json:"server_name"`
	Name       string `json:"name"`
}

// Controller owns every channel's state machine. Mutation of a channel is
// serialized by that channel's lock; channels never take each other's locks.
type Controller struct {
	channels map[string]*channel
	order    []string

	bridge  Bridge
	library *library.Store
	store   *state.Store
	live    LiveSessions
	logger  zerolog.Logger
}

// NewController builds the channel registry and seeds each channel from the
// persisted state document.
func NewController(channelIDs []string, bridge Bridge, lib *library.Store, store *state.Store, logger zerolog.Logger) *Controller {
	ctrl := &Controller{
		channels: make(map[string]*channel, len(channelIDs)),
		order:    append([]string(nil), channelIDs...),
		bridge:   bridge,
		library:  lib,
		store:    store,
		logger:   logger.With().Str("component", "deck").Logger(),
	}

	for _, id := range channelIDs {
		ch := &channel{id: id, mode: ModeAutoDJ, autoDJEnabled: true}
		if rec, ok := store.Get(id); ok {
			ch.applyRecordLocked(rec)
			ctrl.logger.Info().
				Str("channel", id).
				Str("mode", string(ch.mode)).
				Msg("channel state restored")
		}
		ctrl.channels[id] = ch
	}
	return ctrl
}

// SetLiveSessions wires the ingestion manager after construction; the two
// components reference each other.
func (ctrl *Controller) SetLiveSessions(live LiveSessions) {
	ctrl.live = live
}

// Channels returns the deck identifiers in configured order.
func (ctrl *Controller) Channels() []string {
	return append([]string(nil), ctrl.order...)
}

// Has reports whether a deck identifier is served by this instance.
func (ctrl *Controller) Has(channelID string) bool {
	_, ok := ctrl.channels[channelID]
	return ok
}

// LoadFile switches a channel to single-file playback.
func (ctrl *Controller) LoadFile(ctx context.Context, channelID, serverName string, loop bool) (Result, error) {
	ch, err := ctrl.channel(channelID)
	if err != nil {
		return Result{}, err
	}

	path, err := ctrl.library.Resolve(serverName)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, serverName)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	ctrl.preemptLiveLocked(ch)
	ch.mode = ModeFile
	ch.trackPath = path
	ch.trackName = serverName
	ch.looping = loop
	ch.playlist = nil
	ch.playlistIndex = 0
	ch.playlistLoop = false
	ctrl.persistLocked(ch)

	res := ctrl.engineSync(ctx, channelID, func() error {
		if err := ctrl.bridge.Push(ctx, channelID, path); err != nil {
			return err
		}
		return ctrl.bridge.Skip(ctx, channelID)
	})

	ctrl.logger.Info().
		Str("channel", channelID).
		Str("track", serverName).
		Bool("loop", loop).
		Bool("engine_synced", res.EngineSynced).
		Msg("file loaded")
	return res, nil
}

// LoadPlaylist switches a channel to ordered playlist playback. Entries whose
// files no longer exist are filtered out; a list with no resolvable entry is
// rejected without touching state.
func (ctrl *Controller) LoadPlaylist(ctx context.Context, channelID string, tracks []TrackRequest, loop bool, startIndex int) (Result, error) {
	ch, err := ctrl.channel(channelID)
	if err != nil {
		return Result{}, err
	}

	if len(tracks) == 0 {
		return Result{}, fmt.Errorf("%w: empty track list", ErrInvalidInput)
	}

	type resolved struct {
		entry PlaylistEntry
		path  string
	}
	kept := make([]resolved, 0, len(tracks))
	for _, tr := range tracks {
		path, err := ctrl.library.Resolve(tr.ServerName)
		if err != nil {
			ctrl.logger.Warn().
				Str("channel", channelID).
				Str("track", tr.ServerName).
				Msg("playlist entry skipped, file missing")
			continue
		}
		name := tr.Name
		if name == "" {
			name = tr.ServerName
		}
		kept = append(kept, resolved{
			entry: PlaylistEntry{
				ID:         uuid.New().String(),
				Name:       name,
				ServerName: tr.ServerName,
				Position:   len(kept),
			},
			path: path,
		})
	}
	if len(kept) == 0 {
		return Result{}, fmt.Errorf("%w: no listed track exists", ErrNotFound)
	}
	if startIndex < 0 || startIndex >= len(kept) {
		return Result{}, fmt.Errorf("%w: start index %d out of range", ErrInvalidInput, startIndex)
	}

	playlist := make([]PlaylistEntry, len(kept))
	paths := make([]string, len(kept))
	for i, r := range kept {
		playlist[i] = r.entry
		paths[i] = r.path
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	ctrl.preemptLiveLocked(ch)
	ch.mode = ModePlaylist
	ch.trackPath = ""
	ch.trackName = playlist[startIndex].Name
	ch.looping = false
	ch.playlist = playlist
	ch.playlistIndex = startIndex
	ch.playlistLoop = loop
	ctrl.persistLocked(ch)

	res := ctrl.engineSync(ctx, channelID, func() error {
		return ctrl.enqueueFrom(ctx, channelID, paths, startIndex, loop)
	})

	ctrl.logger.Info().
		Str("channel", channelID).
		Int("tracks", len(playlist)).
		Int("start_index", startIndex).
		Bool("loop", loop).
		Bool("engine_synced", res.EngineSynced).
		Msg("playlist loaded")
	return res, nil
}

// Stop clears any explicit feed and returns the channel to AutoDJ.
func (ctrl *Controller) Stop(ctx context.Context, channelID string) (Result, error) {
	ch, err := ctrl.channel(channelID)
	if err != nil {
		return Result{}, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	ctrl.preemptLiveLocked(ch)
	ch.mode = ModeAutoDJ
	ch.trackPath = ""
	ch.trackName = ""
	ch.looping = false
	ch.playlist = nil
	ch.playlistIndex = 0
	ch.playlistLoop = false
	ctrl.persistLocked(ch)

	res := ctrl.engineSync(ctx, channelID, func() error {
		return ctrl.bridge.Skip(ctx, channelID)
	})

	ctrl.logger.Info().Str("channel", channelID).Msg("stopped, unattended playout resumes")
	return res, nil
}

// SetAutoDJEnabled records the unattended-fallback preference. It never
// changes the effective mode by itself.
func (ctrl *Controller) SetAutoDJEnabled(ctx context.Context, channelID string, enabled bool) (Result, error) {
	ch, err := ctrl.channel(channelID)
	if err != nil {
		return Result{}, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.autoDJEnabled = enabled
	ctrl.persistLocked(ch)

	return Result{EngineSynced: true}, nil
}

// PlaylistNext advances the playlist position, clamped to the last entry.
func (ctrl *Controller) PlaylistNext(ctx context.Context, channelID string) (Result, error) {
	ch, err := ctrl.channel(channelID)
	if err != nil {
		return Result{}, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.mode != ModePlaylist {
		return Result{}, fmt.Errorf("%w: channel is not in playlist mode", ErrInvalidInput)
	}

	if ch.playlistIndex < len(ch.playlist)-1 {
		ch.playlistIndex++
	}
	ch.trackName = ch.playlist[ch.playlistIndex].Name
	ctrl.persistLocked(ch)

	res := ctrl.engineSync(ctx, channelID, func() error {
		return ctrl.bridge.Skip(ctx, channelID)
	})

	ctrl.logger.Debug().
		Str("channel", channelID).
		Int("index", ch.playlistIndex).
		Msg("playlist advanced")
	return res, nil
}

// PlaylistJump moves to an absolute playlist position and re-enqueues the
// engine's queue from there.
func (ctrl *Controller) PlaylistJump(ctx context.Context, channelID string, index int) (Result, error) {
	ch, err := ctrl.channel(channelID)
	if err != nil {
		return Result{}, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.mode != ModePlaylist {
		return Result{}, fmt.Errorf("%w: channel is not in playlist mode", ErrInvalidInput)
	}
	if index < 0 || index >= len(ch.playlist) {
		return Result{}, fmt.Errorf("%w: index %d out of range", ErrInvalidInput, index)
	}

	ch.playlistIndex = index
	ch.trackName = ch.playlist[index].Name
	ctrl.persistLocked(ch)

	paths := make([]string, len(ch.playlist))
	for i, e := range ch.playlist {
		p, err := ctrl.library.Resolve(e.ServerName)
		if err != nil {
			// File deleted since load; the engine skips unreadable paths.
			p = e.ServerName
		}
		paths[i] = p
	}
	loop := ch.playlistLoop

	res := ctrl.engineSync(ctx, channelID, func() error {
		return ctrl.enqueueFrom(ctx, channelID, paths, index, loop)
	})

	ctrl.logger.Info().
		Str("channel", channelID).
		Int("index", index).
		Bool("engine_synced", res.EngineSynced).
		Msg("playlist jump")
	return res, nil
}

// HandleLiveStarted marks a channel as driven by a live transcoding session.
// Called by the ingestion manager once the first frame spawned the process.
func (ctrl *Controller) HandleLiveStarted(channelID string) {
	ch, err := ctrl.channel(channelID)
	if err != nil {
		return
	}

	ch.mu.Lock()
	ch.liveActive = true
	ch.mu.Unlock()

	ctrl.logger.Info().Str("channel", channelID).Msg("live feed active")
}

// HandleLiveEnded demotes a channel to AutoDJ after its live session closed
// or its transcoding process exited. The ingestion manager guarantees this
// fires at most once per session.
func (ctrl *Controller) HandleLiveEnded(channelID string) {
	ch, err := ctrl.channel(channelID)
	if err != nil {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !ch.liveActive {
		// The session never produced a frame; the channel never went live.
		return
	}
	ch.liveActive = false
	ch.mode = ModeAutoDJ
	ctrl.persistLocked(ch)

	ctrl.logger.Info().Str("channel", channelID).Msg("live feed ended, falling back to autodj")
}

// Internal helpers

func (ctrl *Controller) channel(channelID string) (*channel, error) {
	ch, ok := ctrl.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	return ch, nil
}

// preemptLiveLocked tears down an active live session on behalf of an
// explicit command. Caller holds ch.mu; Preempt consumes the session's
// demotion callback so no re-entrant lock attempt happens.
func (ctrl *Controller) preemptLiveLocked(ch *channel) {
	if ctrl.live != nil {
		ctrl.live.Preempt(ch.id)
	}
	if ch.liveActive {
		ch.liveActive = false
		ctrl.logger.Info().Str("channel", ch.id).Msg("live session preempted by explicit command")
	}
}

// persistLocked writes the channel's durable record. Failures are logged and
// non-fatal; in-memory state stays authoritative until the next write.
func (ctrl *Controller) persistLocked(ch *channel) {
	if err := ctrl.store.Put(ch.id, ch.recordLocked()); err != nil {
		ctrl.logger.Error().Err(err).Str("channel", ch.id).Msg("state persistence failed")
	}
}

// engineSync runs bridge side effects best-effort. A failure never rolls
// back the declared state; the caller's response carries the warning.
func (ctrl *Controller) engineSync(ctx context.Context, channelID string, fn func() error) Result {
	if err := fn(); err != nil {
		ctrl.logger.Warn().Err(err).Str("channel", channelID).Msg("broadcast engine not updated")
		return Result{EngineSynced: false, Warning: "broadcast engine may not yet reflect this change"}
	}
	return Result{EngineSynced: true}
}

// enqueueFrom flushes the channel's pending queue and re-enqueues paths
// starting at index, wrapping to the head when loop is set, then skips the
// engine onto the new queue.
func (ctrl *Controller) enqueueFrom(ctx context.Context, channelID string, paths []string, index int, loop bool) error {
	if err := ctrl.bridge.Flush(ctx, channelID); err != nil {
		return err
	}
	for i := index; i < len(paths); i++ {
		if err := ctrl.bridge.Push(ctx, channelID, paths[i]); err != nil {
			return err
		}
	}
	if loop {
		for i := 0; i < index; i++ {
			if err := ctrl.bridge.Push(ctx, channelID, paths[i]); err != nil {
				return err
			}
		}
	}
	return ctrl.bridge.Skip(ctx, channelID)
}
