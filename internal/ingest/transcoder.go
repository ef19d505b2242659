/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ingest

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TranscodeSpec is the validated description of one live transcoding run:
// decode the DJ's container format from stdin, encode to a broadcast codec,
// push to the engine's per-channel live mount.
type TranscodeSpec struct {
	FFmpegBin   string
	InputFormat string // container of incoming frames (e.g. "webm")
	BitrateKbps int
	OutputURL   string // icecast:// URL carrying credentials and the live mount
}

// Validate rejects a spec before any process is spawned.
func (s TranscodeSpec) Validate() error {
	if s.FFmpegBin == "" {
		return fmt.Errorf("ffmpeg binary is required")
	}
	if s.InputFormat == "" {
		return fmt.Errorf("input format is required")
	}
	if s.BitrateKbps < 8 || s.BitrateKbps > 320 {
		return fmt.Errorf("bitrate must be between 8 and 320 kbps, got %d", s.BitrateKbps)
	}
	u, err := url.Parse(s.OutputURL)
	if err != nil {
		return fmt.Errorf("parse output URL: %w", err)
	}
	if u.Scheme != "icecast" {
		return fmt.Errorf("output URL scheme must be icecast, got %q", u.Scheme)
	}
	if u.Host == "" || u.Path == "" || u.Path == "/" {
		return fmt.Errorf("output URL must carry host and mount, got %q", s.OutputURL)
	}
	return nil
}

func (s TranscodeSpec) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", s.InputFormat,
		"-i", "pipe:0",
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", s.BitrateKbps),
		"-content_type", "audio/mpeg",
		"-f", "mp3",
		s.OutputURL,
	}
}

// LiveMountURL builds the icecast push URL for a channel's live mount.
func LiveMountURL(icecastURL, sourcePassword, channelID string) (string, error) {
	u, err := url.Parse(icecastURL)
	if err != nil {
		return "", fmt.Errorf("parse icecast URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("icecast URL %q has no host", icecastURL)
	}
	mount := strings.TrimRight(u.Path, "/") + "/" + channelID + "-live"
	out := url.URL{
		Scheme: "icecast",
		User:   url.UserPassword("source", sourcePassword),
		Host:   u.Host,
		Path:   mount,
	}
	return out.String(), nil
}

// Transcoder is one live transcoding process. Implementations must make
// Done observable as soon as the process is no longer writable.
type Transcoder interface {
	Write(frame []byte) error
	// Stop closes stdin, waits up to grace for a clean exit, then kills.
	Stop(grace time.Duration)
	Done() <-chan struct{}
}

// TranscoderFactory spawns a transcoder for a channel's live session.
type TranscoderFactory func(channelID string) (Transcoder, error)

// NewProcessFactory returns a factory spawning real ffmpeg processes.
func NewProcessFactory(spec func(channelID string) TranscodeSpec, logger zerolog.Logger) TranscoderFactory {
	log := logger.With().Str("component", "transcoder").Logger()
	return func(channelID string) (Transcoder, error) {
		return startProcess(spec(channelID), channelID, log)
	}
}

type processTranscoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	done   chan struct{}
	logger zerolog.Logger
}

func startProcess(spec TranscodeSpec, channelID string, logger zerolog.Logger) (*processTranscoder, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transcode spec: %w", err)
	}

	cmd := exec.Command(spec.FFmpegBin, spec.args()...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.FFmpegBin, err)
	}

	p := &processTranscoder{
		cmd:    cmd,
		stdin:  stdin,
		done:   make(chan struct{}),
		logger: logger.With().Str("channel", channelID).Int("pid", cmd.Process.Pid).Logger(),
	}
	p.logger.Info().Str("format", spec.InputFormat).Int("bitrate_kbps", spec.BitrateKbps).Msg("transcoder started")

	go func() {
		err := cmd.Wait()
		close(p.done)
		if err != nil {
			p.logger.Warn().Err(err).Msg("transcoder exited")
		} else {
			p.logger.Info().Msg("transcoder exited cleanly")
		}
	}()

	return p, nil
}

func (p *processTranscoder) Write(frame []byte) error {
	_, err := p.stdin.Write(frame)
	return err
}

func (p *processTranscoder) Done() <-chan struct{} {
	return p.done
}

// Stop guarantees the process is no longer writable when it returns.
func (p *processTranscoder) Stop(grace time.Duration) {
	p.stdin.Close()

	if grace > 0 {
		select {
		case <-p.done:
			return
		case <-time.After(grace):
		}
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	<-p.done
}
