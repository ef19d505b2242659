/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LiveSessionsActive tracks currently attached live ingestion sessions.
	LiveSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wavedeck_live_sessions_active",
		Help: "Number of live DJ ingestion sessions currently attached",
	})

	// FramesForwarded counts audio frames written to transcoder stdin.
	FramesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavedeck_frames_forwarded_total",
		Help: "Audio frames forwarded to the live transcoding process",
	}, []string{"channel"})

	// TranscoderSpawns counts transcoding process launches by outcome.
	TranscoderSpawns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavedeck_transcoder_spawns_total",
		Help: "Live transcoding process spawn attempts",
	}, []string{"result"})

	// BridgeCommands counts playout control bridge exchanges by outcome.
	BridgeCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavedeck_bridge_commands_total",
		Help: "Playout control bridge command exchanges",
	}, []string{"command", "result"})

	// LibraryUploads counts stored library and announcement files.
	LibraryUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavedeck_library_uploads_total",
		Help: "Files stored in the upload library",
	}, []string{"store"})
)
