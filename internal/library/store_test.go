/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("library", t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestStoreAndResolve(t *testing.T) {
	s := newTestStore(t)

	name, err := s.Store("My Track.MP3", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if !strings.HasPrefix(name, "my-track-") || !strings.HasSuffix(name, ".mp3") {
		t.Errorf("Store() server name = %q, want my-track-<token>.mp3", name)
	}

	path, err := s.Resolve(name)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("stored content = %q, want %q", data, "audio-bytes")
	}
}

func TestStoreNameCollision(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Store("track.mp3", strings.NewReader("a"))
	if err != nil {
		t.Fatalf("Store() first error = %v", err)
	}
	second, err := s.Store("track.mp3", strings.NewReader("b"))
	if err != nil {
		t.Fatalf("Store() second error = %v", err)
	}
	if first == second {
		t.Errorf("identical originals produced the same server name %q", first)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Store("one.mp3", strings.NewReader("11")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Store("two.mp3", strings.NewReader("2222")); err != nil {
		t.Fatal(err)
	}

	files, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List() returned %d files, want 2", len(files))
	}
	for _, f := range files {
		if f.Size != 2 && f.Size != 4 {
			t.Errorf("unexpected size %d for %s", f.Size, f.ServerName)
		}
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	name, err := s.Store("gone.mp3", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(name); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(name); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() of missing file error = %v, want ErrNotFound", err)
	}
	if _, err := s.Resolve(name); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve() after delete error = %v, want ErrNotFound", err)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"", "../etc/passwd", "a/b.mp3", ".." + string(filepath.Separator) + "x"} {
		if _, err := s.Resolve(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Resolve(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestBuildServerNameFallback(t *testing.T) {
	name := buildServerName("???")
	if !strings.HasPrefix(name, "upload-") {
		t.Errorf("buildServerName(???) = %q, want upload-<token>", name)
	}
}
