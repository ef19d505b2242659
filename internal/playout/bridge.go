/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playout bridges channel-scoped intents to the external broadcast
// engine's line-oriented control protocol. One TCP dial per logical command,
// one exchange per round trip, bounded by a deadline. Failures are logged by
// the caller and never retried; the engine is allowed to lag the declared
// channel state.
package playout

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavedeck/wavedeck/internal/telemetry"
)

// ErrUnavailable indicates the control connection failed or timed out.
var ErrUnavailable = errors.New("playout engine unavailable")

// responseTerminator ends every engine reply.
const responseTerminator = "END"

// Bridge issues commands to the playout engine's control socket.
type Bridge struct {
	addr    string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewBridge creates a bridge for the engine control address.
func NewBridge(addr string, timeout time.Duration, logger zerolog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Bridge{
		addr:    addr,
		timeout: timeout,
		logger:  logger.With().Str("component", "playout_bridge").Logger(),
	}
}

// Push enqueues a track path on the channel's pending queue.
func (b *Bridge) Push(ctx context.Context, channelID, path string) error {
	_, err := b.exchange(ctx, "push", fmt.Sprintf("%s.push %s", channelID, path))
	return err
}

// Skip cuts whatever the channel is currently playing.
func (b *Bridge) Skip(ctx context.Context, channelID string) error {
	_, err := b.exchange(ctx, "skip", fmt.Sprintf("%s.skip", channelID))
	return err
}

// Flush clears the channel's pending queue.
func (b *Bridge) Flush(ctx context.Context, channelID string) error {
	_, err := b.exchange(ctx, "flush", fmt.Sprintf("%s.flush", channelID))
	return err
}

// NowPlaying returns the engine's current-track metadata for the channel.
// An empty string means the engine reported nothing.
func (b *Bridge) NowPlaying(ctx context.Context, channelID string) (string, error) {
	lines, err := b.exchange(ctx, "current", fmt.Sprintf("%s.current", channelID))
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[0], nil
}

// exchange performs one request/response round trip. The reply is every line
// up to (excluding) the END terminator.
func (b *Bridge) exchange(ctx context.Context, name, command string) ([]string, error) {
	deadline := time.Now().Add(b.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", b.addr)
	if err != nil {
		telemetry.BridgeCommands.WithLabelValues(name, "error").Inc()
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, b.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		telemetry.BridgeCommands.WithLabelValues(name, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		telemetry.BridgeCommands.WithLabelValues(name, "error").Inc()
		return nil, fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}

	var lines []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == responseTerminator {
			telemetry.BridgeCommands.WithLabelValues(name, "ok").Inc()
			b.logger.Debug().Str("command", command).Strs("reply", lines).Msg("bridge exchange")
			return lines, nil
		}
		lines = append(lines, line)
	}

	telemetry.BridgeCommands.WithLabelValues(name, "timeout").Inc()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrUnavailable, err)
	}
	return nil, fmt.Errorf("%w: connection closed before %s", ErrUnavailable, responseTerminator)
}
