/*
Copyright (C) 2026 Wavedeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package deck

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wavedeck/wavedeck/internal/library"
	"github.com/wavedeck/wavedeck/internal/state"
)

type fakeBridge struct {
	mu         sync.Mutex
	calls      []string
	fail       bool
	nowPlaying string
	npErr      error
}

func (b *fakeBridge) record(call string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("engine down")
	}
	b.calls = append(b.calls, call)
	return nil
}

func (b *fakeBridge) Push(ctx context.Context, channelID, path string) error {
	return b.record(fmt.Sprintf("push %s %s", channelID, filepath.Base(path)))
}

func (b *fakeBridge) Skip(ctx context.Context, channelID string) error {
	return b.record("skip " + channelID)
}

func (b *fakeBridge) Flush(ctx context.Context, channelID string) error {
	return b.record("flush " + channelID)
}

func (b *fakeBridge) NowPlaying(ctx context.Context, channelID string) (string, error) {
	return b.nowPlaying, b.npErr
}

func (b *fakeBridge) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

type fakeLive struct {
	mu        sync.Mutex
	preempted []string
}

func (l *fakeLive) Preempt(channelID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.preempted = append(l.preempted, channelID)
}

type fixture struct {
	ctrl      *Controller
	bridge    *fakeBridge
	live      *fakeLive
	lib       *library.Store
	statePath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	lib, err := library.NewStore("library", t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	statePath := filepath.Join(t.TempDir(), "state.json")
	store, err := state.NewStore(statePath, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	bridge := &fakeBridge{}
	live := &fakeLive{}
	ctrl := NewController([]string{"deck1", "deck2"}, bridge, lib, store, zerolog.Nop())
	ctrl.SetLiveSessions(live)

	return &fixture{ctrl: ctrl, bridge: bridge, live: live, lib: lib, statePath: statePath}
}

func (f *fixture) upload(t *testing.T, name string) string {
	t.Helper()
	serverName, err := f.lib.Store(name, strings.NewReader("audio"))
	if err != nil {
		t.Fatal(err)
	}
	return serverName
}

func (f *fixture) mode(t *testing.T, channelID string) Mode {
	t.Helper()
	ch := f.ctrl.channels[channelID]
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.effectiveModeLocked()
}

func TestLoadFileMissingRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.LoadFile(context.Background(), "deck1", "missing.mp3", false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadFile() error = %v, want ErrNotFound", err)
	}
	if got := f.mode(t, "deck1"); got != ModeAutoDJ {
		t.Errorf("mode after rejected load = %v, want autodj", got)
	}
	if calls := f.bridge.recorded(); len(calls) != 0 {
		t.Errorf("bridge touched on rejected command: %v", calls)
	}
}

func TestLoadFile(t *testing.T) {
	f := newFixture(t)
	name := f.upload(t, "opener.mp3")

	res, err := f.ctrl.LoadFile(context.Background(), "deck1", name, true)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if !res.EngineSynced {
		t.Error("EngineSynced = false with healthy bridge")
	}
	if got := f.mode(t, "deck1"); got != ModeFile {
		t.Errorf("mode = %v, want file", got)
	}

	calls := f.bridge.recorded()
	want := []string{"push deck1 " + name, "skip deck1"}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("bridge calls = %v, want %v", calls, want)
	}
}

func TestLoadFileThenStop(t *testing.T) {
	f := newFixture(t)
	name := f.upload(t, "opener.mp3")

	// The engine being down must not change the outcome.
	f.bridge.fail = true

	if _, err := f.ctrl.LoadFile(context.Background(), "deck1", name, false); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if _, err := f.ctrl.Stop(context.Background(), "deck1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	ch := f.ctrl.channels["deck1"]
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.effectiveModeLocked() != ModeAutoDJ {
		t.Errorf("mode = %v, want autodj", ch.effectiveModeLocked())
	}
	if ch.trackName != "" || ch.trackPath != "" {
		t.Errorf("track fields not cleared: name=%q path=%q", ch.trackName, ch.trackPath)
	}
}

func TestBridgeFailureIsOptimistic(t *testing.T) {
	f := newFixture(t)
	name := f.upload(t, "opener.mp3")
	f.bridge.fail = true

	res, err := f.ctrl.LoadFile(context.Background(), "deck1", name, false)
	if err != nil {
		t.Fatalf("LoadFile() error = %v, want best-effort success", err)
	}
	if res.EngineSynced {
		t.Error("EngineSynced = true with failing bridge")
	}
	if res.Warning == "" {
		t.Error("missing warning for unsynced engine")
	}
	if got := f.mode(t, "deck1"); got != ModeFile {
		t.Errorf("declared intent lost: mode = %v, want file", got)
	}
}

func TestLoadPlaylistFiltersMissing(t *testing.T) {
	f := newFixture(t)
	one := f.upload(t, "one.mp3")
	two := f.upload(t, "two.mp3")

	tracks := []TrackRequest{
		{ServerName: one},
		{ServerName: "ghost.mp3"},
		{ServerName: two},
	}
	if _, err := f.ctrl.LoadPlaylist(context.Background(), "deck1", tracks, false, 0); err != nil {
		t.Fatalf("LoadPlaylist() error = %v", err)
	}

	ch := f.ctrl.channels["deck1"]
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.playlist) != 2 {
		t.Fatalf("playlist length = %d, want 2 (missing entry filtered)", len(ch.playlist))
	}
	for i, e := range ch.playlist {
		if e.Position != i {
			t.Errorf("playlist[%d].Position = %d, want contiguous ordering", i, e.Position)
		}
	}
}

func TestLoadPlaylistAllMissingRejected(t *testing.T) {
	f := newFixture(t)
	name := f.upload(t, "keep.mp3")
	if _, err := f.ctrl.LoadFile(context.Background(), "deck1", name, false); err != nil {
		t.Fatal(err)
	}

	tracks := []TrackRequest{{ServerName: "a.mp3"}, {ServerName: "b.mp3"}}
	_, err := f.ctrl.LoadPlaylist(context.Background(), "deck1", tracks, false, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadPlaylist() error = %v, want ErrNotFound", err)
	}
	if got := f.mode(t, "deck1"); got != ModeFile {
		t.Errorf("previous mode lost on rejected playlist: %v", got)
	}
}

func TestLoadPlaylistEmptyRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.LoadPlaylist(context.Background(), "deck1", nil, false, 0)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("LoadPlaylist(empty) error = %v, want ErrInvalidInput", err)
	}
}

func TestPlaylistNextClampsAtEnd(t *testing.T) {
	f := newFixture(t)
	one := f.upload(t, "one.mp3")
	two := f.upload(t, "two.mp3")

	tracks := []TrackRequest{{ServerName: one}, {ServerName: two}}
	if _, err := f.ctrl.LoadPlaylist(context.Background(), "deck2", tracks, false, 0); err != nil {
		t.Fatal(err)
	}

	idx := func() int {
		ch := f.ctrl.channels["deck2"]
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.playlistIndex
	}

	if idx() != 0 {
		t.Fatalf("playlistIndex = %d, want 0", idx())
	}
	if _, err := f.ctrl.PlaylistNext(context.Background(), "deck2"); err != nil {
		t.Fatal(err)
	}
	if idx() != 1 {
		t.Fatalf("playlistIndex after next = %d, want 1", idx())
	}
	if _, err := f.ctrl.PlaylistNext(context.Background(), "deck2"); err != nil {
		t.Fatal(err)
	}
	if idx() != 1 {
		t.Errorf("playlistIndex clamped = %d, want 1 (no wraparound)", idx())
	}
}

func TestPlaylistJumpValidation(t *testing.T) {
	f := newFixture(t)
	one := f.upload(t, "one.mp3")
	two := f.upload(t, "two.mp3")

	// Not in playlist mode yet.
	if _, err := f.ctrl.PlaylistJump(context.Background(), "deck1", 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("PlaylistJump() outside playlist mode error = %v, want ErrInvalidInput", err)
	}

	tracks := []TrackRequest{{ServerName: one}, {ServerName: two}}
	if _, err := f.ctrl.LoadPlaylist(context.Background(), "deck1", tracks, false, 0); err != nil {
		t.Fatal(err)
	}

	if _, err := f.ctrl.PlaylistJump(context.Background(), "deck1", 2); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("PlaylistJump(2) error = %v, want ErrInvalidInput", err)
	}
	ch := f.ctrl.channels["deck1"]
	ch.mu.Lock()
	if ch.playlistIndex != 0 {
		t.Errorf("playlistIndex changed by rejected jump: %d", ch.playlistIndex)
	}
	ch.mu.Unlock()

	if _, err := f.ctrl.PlaylistJump(context.Background(), "deck1", 1); err != nil {
		t.Fatalf("PlaylistJump(1) error = %v", err)
	}
	ch.mu.Lock()
	if ch.playlistIndex != 1 {
		t.Errorf("playlistIndex = %d, want 1", ch.playlistIndex)
	}
	ch.mu.Unlock()
}

func TestEnqueueOrderWithLoopWrap(t *testing.T) {
	f := newFixture(t)
	one := f.upload(t, "one.mp3")
	two := f.upload(t, "two.mp3")
	three := f.upload(t, "three.mp3")

	tracks := []TrackRequest{{ServerName: one}, {ServerName: two}, {ServerName: three}}
	if _, err := f.ctrl.LoadPlaylist(context.Background(), "deck1", tracks, true, 1); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"flush deck1",
		"push deck1 " + two,
		"push deck1 " + three,
		"push deck1 " + one, // wrapped to head because loop is set
		"skip deck1",
	}
	got := f.bridge.recorded()
	if len(got) != len(want) {
		t.Fatalf("bridge calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSetAutoDJEnabledKeepsMode(t *testing.T) {
	f := newFixture(t)
	name := f.upload(t, "opener.mp3")
	if _, err := f.ctrl.LoadFile(context.Background(), "deck1", name, false); err != nil {
		t.Fatal(err)
	}

	if _, err := f.ctrl.SetAutoDJEnabled(context.Background(), "deck1", false); err != nil {
		t.Fatal(err)
	}
	if got := f.mode(t, "deck1"); got != ModeFile {
		t.Errorf("mode changed by preference flag: %v", got)
	}
}

func TestLiveLifecycle(t *testing.T) {
	f := newFixture(t)

	f.ctrl.HandleLiveStarted("deck1")
	if got := f.mode(t, "deck1"); got != ModeLive {
		t.Fatalf("mode = %v, want live", got)
	}

	f.ctrl.HandleLiveEnded("deck1")
	if got := f.mode(t, "deck1"); got != ModeAutoDJ {
		t.Errorf("mode after live end = %v, want autodj", got)
	}

	// A second demotion for the same session must be a no-op.
	f.ctrl.HandleLiveEnded("deck1")
	if got := f.mode(t, "deck1"); got != ModeAutoDJ {
		t.Errorf("mode = %v, want autodj", got)
	}
}

func TestExplicitCommandPreemptsLive(t *testing.T) {
	f := newFixture(t)
	name := f.upload(t, "opener.mp3")

	f.ctrl.HandleLiveStarted("deck1")
	if _, err := f.ctrl.LoadFile(context.Background(), "deck1", name, false); err != nil {
		t.Fatal(err)
	}

	if got := f.mode(t, "deck1"); got != ModeFile {
		t.Errorf("mode = %v, want file (live preempted)", got)
	}
	f.live.mu.Lock()
	defer f.live.mu.Unlock()
	if len(f.live.preempted) != 1 || f.live.preempted[0] != "deck1" {
		t.Errorf("live preempt calls = %v, want [deck1]", f.live.preempted)
	}
}

func TestUnknownChannelRejected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.Stop(context.Background(), "deck9"); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("Stop(deck9) error = %v, want ErrChannelNotFound", err)
	}
}

func TestRestartRestoresCommittedState(t *testing.T) {
	f := newFixture(t)
	one := f.upload(t, "one.mp3")
	two := f.upload(t, "two.mp3")

	tracks := []TrackRequest{{ServerName: one}, {ServerName: two}}
	if _, err := f.ctrl.LoadPlaylist(context.Background(), "deck1", tracks, true, 1); err != nil {
		t.Fatal(err)
	}
	f.ctrl.HandleLiveStarted("deck2")

	// Restart: reopen the state document and rebuild the registry.
	store, err := state.NewStore(f.statePath, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	restored := NewController([]string{"deck1", "deck2"}, f.bridge, f.lib, store, zerolog.Nop())

	ch := restored.channels["deck1"]
	ch.mu.Lock()
	if ch.mode != ModePlaylist || ch.playlistIndex != 1 || !ch.playlistLoop {
		t.Errorf("restored deck1 = mode %v index %d loop %v", ch.mode, ch.playlistIndex, ch.playlistLoop)
	}
	if len(ch.playlist) != 2 || ch.playlist[0].ServerName != one {
		t.Errorf("restored playlist = %+v", ch.playlist)
	}
	ch.mu.Unlock()

	// Transient live state never survives a restart.
	ch2 := restored.channels["deck2"]
	ch2.mu.Lock()
	if ch2.liveActive {
		t.Error("liveActive survived restart")
	}
	ch2.mu.Unlock()
}
