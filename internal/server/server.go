/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires configuration, storage, the playout bridge, the deck
// controller and the ingestion manager into one HTTP server.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wavedeck/wavedeck/internal/api"
	"github.com/wavedeck/wavedeck/internal/config"
	"github.com/wavedeck/wavedeck/internal/deck"
	"github.com/wavedeck/wavedeck/internal/ingest"
	"github.com/wavedeck/wavedeck/internal/library"
	"github.com/wavedeck/wavedeck/internal/playout"
	"github.com/wavedeck/wavedeck/internal/state"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server

	ctrl     *deck.Controller
	ingest   *ingest.Manager
	status   *deck.Aggregator
	api      *api.API
	media    *library.Store
	announce *library.Store
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	// Skip timeout for the long-lived live ingestion connections.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := s.initDependencies(); err != nil {
		return nil, err
	}
	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) initDependencies() error {
	media, err := library.NewStore("library", s.cfg.MediaRoot, s.logger)
	if err != nil {
		return fmt.Errorf("media store: %w", err)
	}
	s.media = media

	announce, err := library.NewStore("announcements", s.cfg.AnnounceRoot, s.logger)
	if err != nil {
		return fmt.Errorf("announcement store: %w", err)
	}
	s.announce = announce

	st, err := state.NewStore(s.cfg.StateFile, s.logger)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}

	bridge := playout.NewBridge(s.cfg.EngineControlAddr, s.cfg.EngineTimeout, s.logger)
	s.ctrl = deck.NewController(s.cfg.Channels, bridge, media, st, s.logger)

	// Resolve every channel's live mount up front so a bad icecast URL
	// fails at startup, not on the first DJ connection.
	mounts := make(map[string]string, len(s.cfg.Channels))
	for _, ch := range s.cfg.Channels {
		mount, err := ingest.LiveMountURL(s.cfg.IcecastURL, s.cfg.IcecastSourcePassword, ch)
		if err != nil {
			return fmt.Errorf("live mount for %s: %w", ch, err)
		}
		mounts[ch] = mount
	}
	factory := ingest.NewProcessFactory(func(channelID string) ingest.TranscodeSpec {
		return ingest.TranscodeSpec{
			FFmpegBin:   s.cfg.FFmpegBin,
			InputFormat: s.cfg.LiveInputFormat,
			BitrateKbps: s.cfg.LiveBitrateKbps,
			OutputURL:   mounts[channelID],
		}
	}, s.logger)

	s.ingest = ingest.NewManager(factory, s.ctrl, 0, s.logger)
	s.ctrl.SetLiveSessions(s.ingest)

	s.status = deck.NewAggregator(s.ctrl, bridge, s.ingest, s.cfg.IcecastPublicURL, s.logger)

	liveWS := api.NewLiveWebSocket(s.ingest, s.ctrl, s.logger)
	s.api = api.New(s.ctrl, s.status, media, announce, liveWS, s.logger)
	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", promhttp.Handler())

	s.api.Routes(s.router)
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources. Live sessions are torn down so their
// transcoding processes exit before the process does.
func (s *Server) Close() error {
	s.ingest.CloseAll()
	return nil
}
