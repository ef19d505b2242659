/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ingest owns live DJ ingestion sessions: one duplex connection per
// channel feeding compressed audio frames into a transcoding process that
// egresses to the broadcast engine's live mount. The process is spawned
// lazily on the first frame; a dead or crashed process is never retried
// within a session, the channel just falls back to AutoDJ.
package ingest

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavedeck/wavedeck/internal/telemetry"
)

// Notifier receives live lifecycle events from sessions.
type Notifier interface {
	HandleLiveStarted(channelID string)
	HandleLiveEnded(channelID string)
}

// Conn is the duplex connection handle a session owns.
type Conn interface {
	Close() error
}

// Manager tracks at most one live session per channel.
type Manager struct {
	factory  TranscoderFactory
	notifier Notifier
	grace    time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates the session manager. grace bounds how long Close waits
// for a transcoder to exit after stdin is closed before killing it.
func NewManager(factory TranscoderFactory, notifier Notifier, grace time.Duration, logger zerolog.Logger) *Manager {
	if grace <= 0 {
		grace = 300 * time.Millisecond
	}
	return &Manager{
		factory:  factory,
		notifier: notifier,
		grace:    grace,
		logger:   logger.With().Str("component", "ingest").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Session ties a channel to one duplex connection and, once the first frame
// arrived, one transcoding process.
type Session struct {
	channelID string
	conn      Conn
	mgr       *Manager

	mu      sync.Mutex
	proc    Transcoder
	pending [][]byte // frames received during process cold-start
	closed  bool
	demoted bool // the single demotion for this session was consumed
	failed  bool // spawn failed; frames are dropped for the session's lifetime

	// cbMu serializes lifecycle callbacks so a teardown racing a cold-start
	// can never deliver "ended" before "started". Preempt never takes it.
	cbMu sync.Mutex
}

// Open registers a new authoritative connection for the channel, forcibly
// closing any prior session. The swap is atomic under m.mu so two racing
// opens can never both survive; the loser is torn down after the swap.
func (m *Manager) Open(channelID string, conn Conn) *Session {
	s := &Session{channelID: channelID, conn: conn, mgr: m}

	m.mu.Lock()
	prior := m.sessions[channelID]
	m.sessions[channelID] = s
	m.mu.Unlock()

	telemetry.LiveSessionsActive.Inc()
	if prior != nil {
		m.logger.Warn().Str("channel", channelID).Msg("replacing existing live session")
		m.closeSession(prior, true)
	}

	m.logger.Info().Str("channel", channelID).Msg("live session opened")
	return s
}

// Attached reports whether a live connection is currently registered for the
// channel, whether or not it has produced a frame yet.
func (m *Manager) Attached(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[channelID]
	return ok
}

// Close tears down the channel's current session, if any, and demotes the
// channel to AutoDJ.
func (m *Manager) Close(channelID string) {
	m.mu.Lock()
	s := m.sessions[channelID]
	m.mu.Unlock()

	if s != nil {
		m.closeSession(s, true)
	}
}

// CloseSession tears down a specific session. Used by the transport handler
// when its connection ends, so that a session replaced by a newer one cannot
// tear the newer one down.
func (m *Manager) CloseSession(s *Session) {
	m.closeSession(s, true)
}

// Preempt tears down the channel's live session on behalf of an explicit
// command. The demotion callback is consumed without firing: the caller
// already holds the channel lock and performs its own mode change.
func (m *Manager) Preempt(channelID string) {
	m.mu.Lock()
	s := m.sessions[channelID]
	m.mu.Unlock()

	if s != nil {
		m.closeSession(s, false)
	}
}

// CloseAll tears down every session; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.closeSession(s, true)
	}
}

// HandleFrame forwards one binary audio frame. The first frame spawns the
// transcoding process synchronously; frames that raced the cold-start are
// flushed right after. Write failures are swallowed, the process exit drives
// cleanup.
func (s *Session) HandleFrame(frame []byte) {
	s.mu.Lock()
	if s.closed || s.failed {
		s.mu.Unlock()
		return
	}
	if s.proc == nil {
		spawning := len(s.pending) > 0
		s.pending = append(s.pending, frame)
		s.mu.Unlock()
		if !spawning {
			s.spawn()
		}
		return
	}
	proc := s.proc
	s.mu.Unlock()

	if err := proc.Write(frame); err != nil {
		s.mgr.logger.Debug().Err(err).Str("channel", s.channelID).Msg("frame dropped, transcoder pipe broken")
		return
	}
	telemetry.FramesForwarded.WithLabelValues(s.channelID).Inc()
}

func (s *Session) spawn() {
	proc, err := s.mgr.factory(s.channelID)
	if err != nil {
		telemetry.TranscoderSpawns.WithLabelValues("error").Inc()
		s.mgr.logger.Error().Err(err).Str("channel", s.channelID).Msg("transcoder spawn failed")

		s.mu.Lock()
		s.failed = true
		s.pending = nil
		s.mu.Unlock()

		// No retry within the session; a fresh session must be opened.
		s.mgr.closeSession(s, true)
		return
	}
	telemetry.TranscoderSpawns.WithLabelValues("ok").Inc()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		proc.Stop(0)
		return
	}
	s.proc = proc
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, f := range pending {
		if err := proc.Write(f); err != nil {
			break
		}
		telemetry.FramesForwarded.WithLabelValues(s.channelID).Inc()
	}

	s.cbMu.Lock()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.mgr.notifier.HandleLiveStarted(s.channelID)
	}
	s.cbMu.Unlock()

	go func() {
		<-proc.Done()
		// Unexpected exit demotes the channel exactly once; if Close or
		// Preempt ran first, the demotion flag is already consumed.
		s.mgr.closeSession(s, true)
	}()
}

// closeSession is the single teardown path. It guarantees the transcoding
// process is no longer writable before the session is discarded, and that
// the demotion callback fires at most once per session.
func (m *Manager) closeSession(s *Session, demote bool) {
	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	shouldDemote := demote && !s.demoted
	s.demoted = true
	proc := s.proc
	conn := s.conn
	s.mu.Unlock()

	if !wasClosed {
		m.mu.Lock()
		if m.sessions[s.channelID] == s {
			delete(m.sessions, s.channelID)
		}
		m.mu.Unlock()

		telemetry.LiveSessionsActive.Dec()
		if conn != nil {
			_ = conn.Close()
		}
		if proc != nil {
			proc.Stop(m.grace)
		}
		m.logger.Info().Str("channel", s.channelID).Msg("live session closed")
	}

	if shouldDemote {
		s.cbMu.Lock()
		m.notifier.HandleLiveEnded(s.channelID)
		s.cbMu.Unlock()
	}
}
