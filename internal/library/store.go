/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wavedeck/wavedeck/internal/telemetry"
)

// ErrNotFound indicates the referenced file does not exist in the store.
var ErrNotFound = errors.New("file not found in library")

// FileInfo describes a stored file.
type FileInfo struct {
	ServerName string `json:"server_name"`
	Size       int64  `json:"size"`
}

// Store is a flat filesystem store for uploaded audio. Server names are
// derived from the original name plus a uniqueness token, so concurrent
// uploads of the same file never collide.
type Store struct {
	name   string // store label for logs/metrics ("library", "announcements")
	dir    string
	logger zerolog.Logger
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(name, dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", dir, err)
	}
	return &Store{
		name:   name,
		dir:    dir,
		logger: logger.With().Str("component", "library").Str("store", name).Logger(),
	}, nil
}

// Store writes the uploaded content and returns the assigned server name.
func (s *Store) Store(originalName string, r io.Reader) (string, error) {
	serverName := buildServerName(originalName)
	fullPath := filepath.Join(s.dir, serverName)

	dest, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dest.Close()

	size, err := io.Copy(dest, r)
	if err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("write file: %w", err)
	}

	telemetry.LibraryUploads.WithLabelValues(s.name).Inc()
	s.logger.Info().
		Str("server_name", serverName).
		Str("original_name", originalName).
		Int64("size", size).
		Msg("file stored")

	return serverName, nil
}

// List returns every stored file with its size.
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// File removed between ReadDir and Info; shared directory.
			continue
		}
		files = append(files, FileInfo{ServerName: entry.Name(), Size: info.Size()})
	}
	return files, nil
}

// Delete removes a stored file. A file that disappeared underneath us is
// reported as ErrNotFound, never as an I/O failure.
func (s *Store) Delete(serverName string) error {
	fullPath, err := s.safePath(serverName)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove file: %w", err)
	}

	s.logger.Info().Str("server_name", serverName).Msg("file deleted")
	return nil
}

// Resolve returns the absolute path of a stored file.
func (s *Store) Resolve(serverName string) (string, error) {
	fullPath, err := s.safePath(serverName)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat file: %w", err)
	}

	abs, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return abs, nil
}

// safePath rejects names that would escape the store directory.
func (s *Store) safePath(serverName string) (string, error) {
	if serverName == "" || serverName != filepath.Base(serverName) {
		return "", ErrNotFound
	}
	return filepath.Join(s.dir, serverName), nil
}

// buildServerName sanitizes the original name and inserts a uniqueness token
// before the extension: "My Track.mp3" -> "my-track-1a2b3c4d.mp3".
func buildServerName(originalName string) string {
	base := filepath.Base(originalName)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	var b strings.Builder
	for _, r := range strings.ToLower(stem) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	cleaned := strings.Trim(b.String(), "-.")
	if cleaned == "" {
		cleaned = "upload"
	}

	token := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return cleaned + "-" + token + strings.ToLower(ext)
}
