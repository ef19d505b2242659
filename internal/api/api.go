/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the deck control surface over HTTP: playback commands,
// status polling, upload library management and the live ingestion endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wavedeck/wavedeck/internal/deck"
	"github.com/wavedeck/wavedeck/internal/library"
)

// API exposes HTTP handlers.
type API struct {
	ctrl          *deck.Controller
	status        *deck.Aggregator
	media         *library.Store
	announcements *library.Store
	liveWS        *LiveWebSocket
	logger        zerolog.Logger
}

// New creates the API router wrapper.
func New(ctrl *deck.Controller, status *deck.Aggregator, media, announcements *library.Store, liveWS *LiveWebSocket, logger zerolog.Logger) *API {
	return &API{
		ctrl:          ctrl,
		status:        status,
		media:         media,
		announcements: announcements,
		liveWS:        liveWS,
		logger:        logger.With().Str("component", "api").Logger(),
	}
}

type loadFileRequest struct {
	ServerName string `json:"server_name"`
	Loop       bool   `json:"loop"`
}

type loadPlaylistRequest struct {
	Tracks     []deck.TrackRequest `json:"tracks"`
	Loop       bool                `json:"loop"`
	StartIndex int                 `json:"start_index"`
}

type autoDJRequest struct {
	Enabled bool `json:"enabled"`
}

type jumpRequest struct {
	Index int `json:"index"`
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/decks", a.handleDecksStatus)

		r.Route("/decks/{deck}", func(r chi.Router) {
			r.Post("/load", a.handleLoadFile)
			r.Post("/playlist", a.handleLoadPlaylist)
			r.Post("/playlist/next", a.handlePlaylistNext)
			r.Post("/playlist/jump", a.handlePlaylistJump)
			r.Post("/stop", a.handleStop)
			r.Post("/autodj", a.handleAutoDJ)
		})

		r.Route("/library", func(r chi.Router) {
			r.Get("/", a.handleList(a.media))
			r.Post("/upload", a.handleUpload(a.media))
			r.Delete("/{name}", a.handleDelete(a.media))
		})

		r.Route("/announcements", func(r chi.Router) {
			r.Get("/", a.handleList(a.announcements))
			r.Post("/upload", a.handleUpload(a.announcements))
			r.Delete("/{name}", a.handleDelete(a.announcements))
		})
	})

	r.Get("/live/{deck}", a.liveWS.Handle)
}

func (a *API) handleDecksStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.status.Snapshot(r.Context()))
}

func (a *API) handleLoadFile(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "deck")

	var req loadFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ServerName == "" {
		writeError(w, http.StatusBadRequest, "server_name_required")
		return
	}

	res, err := a.ctrl.LoadFile(r.Context(), channelID, req.ServerName, req.Loop)
	if err != nil {
		a.writeCommandError(w, channelID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleLoadPlaylist(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "deck")

	var req loadPlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	res, err := a.ctrl.LoadPlaylist(r.Context(), channelID, req.Tracks, req.Loop, req.StartIndex)
	if err != nil {
		a.writeCommandError(w, channelID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handlePlaylistNext(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "deck")

	res, err := a.ctrl.PlaylistNext(r.Context(), channelID)
	if err != nil {
		a.writeCommandError(w, channelID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handlePlaylistJump(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "deck")

	var req jumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	res, err := a.ctrl.PlaylistJump(r.Context(), channelID, req.Index)
	if err != nil {
		a.writeCommandError(w, channelID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "deck")

	res, err := a.ctrl.Stop(r.Context(), channelID)
	if err != nil {
		a.writeCommandError(w, channelID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleAutoDJ(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "deck")

	var req autoDJRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	res, err := a.ctrl.SetAutoDJEnabled(r.Context(), channelID, req.Enabled)
	if err != nil {
		a.writeCommandError(w, channelID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleUpload(store *library.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(256 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_multipart")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file_required")
			return
		}
		defer file.Close()

		serverName, err := store.Store(header.Filename, file)
		if err != nil {
			a.logger.Error().Err(err).Str("filename", header.Filename).Msg("upload failed")
			writeError(w, http.StatusInternalServerError, "store_failed")
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"server_name": serverName})
	}
}

func (a *API) handleList(store *library.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := store.List()
		if err != nil {
			a.logger.Error().Err(err).Msg("library listing failed")
			writeError(w, http.StatusInternalServerError, "list_failed")
			return
		}
		writeJSON(w, http.StatusOK, files)
	}
}

func (a *API) handleDelete(store *library.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := store.Delete(name); err != nil {
			if errors.Is(err, library.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found")
				return
			}
			a.logger.Error().Err(err).Str("name", name).Msg("delete failed")
			writeError(w, http.StatusInternalServerError, "delete_failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// writeCommandError maps controller errors onto HTTP status codes.
func (a *API) writeCommandError(w http.ResponseWriter, channelID string, err error) {
	switch {
	case errors.Is(err, deck.ErrChannelNotFound):
		writeError(w, http.StatusNotFound, "unknown_deck")
	case errors.Is(err, deck.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, deck.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input")
	default:
		a.logger.Error().Err(err).Str("channel", channelID).Msg("command failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
