/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/wavedeck/wavedeck/internal/deck"
	"github.com/wavedeck/wavedeck/internal/ingest"
)

// LiveWebSocket handles the per-deck live ingestion endpoint. A DJ client
// opens one connection per deck and streams binary audio frames; text frames
// are treated as keepalives and ignored.
type LiveWebSocket struct {
	mgr    *ingest.Manager
	ctrl   *deck.Controller
	logger zerolog.Logger
}

// NewLiveWebSocket creates the live ingestion WebSocket handler.
func NewLiveWebSocket(mgr *ingest.Manager, ctrl *deck.Controller, logger zerolog.Logger) *LiveWebSocket {
	return &LiveWebSocket{
		mgr:    mgr,
		ctrl:   ctrl,
		logger: logger.With().Str("component", "live_ws").Logger(),
	}
}

// Handle upgrades the request and pumps frames into the channel's session
// until the connection ends, for whatever reason.
func (h *LiveWebSocket) Handle(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "deck")
	if !h.ctrl.Has(channelID) {
		http.Error(w, "unknown deck", http.StatusNotFound)
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("channel", channelID).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(4 << 20)

	sess := h.mgr.Open(channelID, &wsIngestConn{conn: conn})
	// Closing the session this connection owns; a session replaced by a
	// newer connection must not tear the newer one down.
	defer h.mgr.CloseSession(sess)

	h.logger.Info().Str("channel", channelID).Str("remote", r.RemoteAddr).Msg("dj connected")

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			h.logger.Info().Str("channel", channelID).Msg("dj disconnected")
			return
		}
		if typ != ws.MessageBinary {
			continue
		}
		sess.HandleFrame(data)
	}
}

// wsIngestConn adapts the websocket connection to the session manager's
// connection handle. Close unblocks the read loop.
type wsIngestConn struct {
	conn *ws.Conn
}

func (c *wsIngestConn) Close() error {
	return c.conn.Close(ws.StatusNormalClosure, "session closed")
}
