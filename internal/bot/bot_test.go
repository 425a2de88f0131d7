package bot

import (
	"errors"
	"testing"
	"time"

	"github.com/automcagent/mcbridge/internal/protocol"
)

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received within timeout")
	}
	return Event{}
}

func TestSnapshotBeforeSpawn(t *testing.T) {
	b := New(Options{Username: "tester"})

	if _, ok := Snapshot(b); ok {
		t.Error("Snapshot should report false before spawn")
	}
}

func TestSnapshotDefaultsWithoutBlock(t *testing.T) {
	b := New(Options{})
	if err := b.Spawn(protocol.Vec3{X: 1.5, Y: 64, Z: -3.2}, "survival"); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	state, ok := Snapshot(b)
	if !ok {
		t.Fatal("Snapshot should succeed after spawn")
	}
	if state.Biome != nil {
		t.Errorf("Expected nil biome, got %q", *state.Biome)
	}
	if state.LightLevel != 0 {
		t.Errorf("Expected light level 0, got %d", state.LightLevel)
	}
	if state.Health != 20 || state.Food != 20 {
		t.Errorf("Expected default health/food 20/20, got %v/%d", state.Health, state.Food)
	}
	if !state.OnGround {
		t.Error("Spawned entity should be on ground")
	}
}

func TestSnapshotReadsBlock(t *testing.T) {
	b := New(Options{})
	pos := protocol.Vec3{X: 10.7, Y: 70.2, Z: 5.1}
	b.Spawn(pos, "creative")
	b.SetBlock(protocol.Vec3{X: 10, Y: 70, Z: 5}, Block{Name: "air", Biome: "plains", Light: 15})

	state, _ := Snapshot(b)
	if state.Biome == nil || *state.Biome != "plains" {
		t.Errorf("Expected biome plains, got %v", state.Biome)
	}
	if state.LightLevel != 15 {
		t.Errorf("Expected light level 15, got %d", state.LightLevel)
	}
}

func TestSnapshotLightBelowZero(t *testing.T) {
	b := New(Options{})
	pos := protocol.Vec3{X: 0, Y: -10, Z: 0}
	b.Spawn(pos, "survival")
	b.SetBlock(pos, Block{Biome: "deep_dark", Light: 7})

	state, _ := Snapshot(b)
	if state.LightLevel != 0 {
		t.Errorf("Expected light level 0 below y=0, got %d", state.LightLevel)
	}
	if state.Biome == nil || *state.Biome != "deep_dark" {
		t.Errorf("Expected biome deep_dark, got %v", state.Biome)
	}
}

func TestSpawnEmitsEvent(t *testing.T) {
	b := New(Options{})
	events, cancel := b.Subscribe(8)
	defer cancel()

	b.Spawn(protocol.Vec3{Y: 64}, "survival")

	ev := nextEvent(t, events)
	if ev.Kind != EventSpawn {
		t.Errorf("Expected spawn event, got %s", ev.Kind)
	}
	if b.GameMode() != "survival" {
		t.Errorf("Expected game mode survival, got %s", b.GameMode())
	}
}

func TestSetHealthEmitsDeath(t *testing.T) {
	b := New(Options{})
	events, cancel := b.Subscribe(8)
	defer cancel()

	b.SetHealth(0, 3, 0)

	if ev := nextEvent(t, events); ev.Kind != EventHealth {
		t.Errorf("Expected health event, got %s", ev.Kind)
	}
	if ev := nextEvent(t, events); ev.Kind != EventDeath {
		t.Errorf("Expected death event, got %s", ev.Kind)
	}
}

func TestKickEndsSession(t *testing.T) {
	b := New(Options{})
	events, cancel := b.Subscribe(8)
	defer cancel()

	b.Kick("banned")

	ev := nextEvent(t, events)
	if ev.Kind != EventKicked || ev.Reason != "banned" {
		t.Errorf("Expected kicked event with reason, got %+v", ev)
	}
	if ev := nextEvent(t, events); ev.Kind != EventEnd {
		t.Errorf("Expected end event, got %s", ev.Kind)
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Error("Expected channel to be closed after end")
		}
	case <-time.After(time.Second):
		t.Error("Channel was not closed after end")
	}

	if !b.Ended() {
		t.Error("Bot should report ended")
	}
	if err := b.Spawn(protocol.Vec3{}, "survival"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Expected ErrSessionEnded, got %v", err)
	}
}

func TestFailNonFatalKeepsSession(t *testing.T) {
	b := New(Options{})
	events, cancel := b.Subscribe(8)
	defer cancel()

	b.Fail(errors.New("timeout reading packet"), false)

	ev := nextEvent(t, events)
	if ev.Kind != EventError || ev.Fatal {
		t.Errorf("Expected non-fatal error event, got %+v", ev)
	}
	if b.Ended() {
		t.Error("Non-fatal error should not end the session")
	}
}

func TestFailNilErrorFatal(t *testing.T) {
	b := New(Options{})
	events, cancel := b.Subscribe(8)
	defer cancel()

	b.Fail(nil, true)

	ev := nextEvent(t, events)
	if ev.Kind != EventError || !errors.Is(ev.Err, ErrUnknown) {
		t.Errorf("Expected error event carrying ErrUnknown, got %+v", ev)
	}
	ev = nextEvent(t, events)
	if ev.Kind != EventEnd || ev.Reason != ErrUnknown.Error() {
		t.Errorf("Expected end event, got %+v", ev)
	}
	if !b.Ended() {
		t.Error("Fatal error should end the session")
	}
}

func TestQuitTwice(t *testing.T) {
	b := New(Options{})

	if err := b.Quit("bye"); err != nil {
		t.Fatalf("First Quit failed: %v", err)
	}
	if err := b.Quit("bye"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Expected ErrSessionEnded on second Quit, got %v", err)
	}

	events, _ := b.Subscribe(1)
	if _, ok := <-events; ok {
		t.Error("Subscribe after end should return a closed channel")
	}
}
