package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/automcagent/mcbridge/internal/protocol"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if _, ok, _ := st.LoadResult(ctx, "abc"); ok {
		t.Fatal("Empty store should not return a result")
	}

	want := protocol.CommandResult{ID: "abc", Success: false, Error: "nope"}
	if err := st.SaveResult(ctx, want, time.Minute); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	got, ok, err := st.LoadResult(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("LoadResult returned ok=%v err=%v", ok, err)
	}
	if got.ID != want.ID || got.Error != want.Error {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	st := NewMemoryStore()
	now := time.Unix(1700000000, 0)
	st.now = func() time.Time { return now }
	ctx := context.Background()

	st.SaveResult(ctx, protocol.CommandResult{ID: "old"}, time.Second)
	st.SaveResult(ctx, protocol.CommandResult{ID: "new"}, time.Hour)

	now = now.Add(2 * time.Second)

	if _, ok, _ := st.LoadResult(ctx, "old"); ok {
		t.Error("Expired result should not be returned")
	}
	if _, ok, _ := st.LoadResult(ctx, "new"); !ok {
		t.Error("Unexpired result should be returned")
	}
	if removed := st.Prune(); removed != 1 {
		t.Errorf("Expected 1 pruned result, got %d", removed)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	st := NewRedisStore(mr.Addr())
	defer st.Close()
	ctx := context.Background()

	if err := st.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	if _, ok, err := st.LoadResult(ctx, "missing"); ok || err != nil {
		t.Fatalf("Expected miss, got ok=%v err=%v", ok, err)
	}

	want := protocol.CommandResult{ID: "get_state_1", Success: true, Data: map[string]any{"health": 20.0}}
	if err := st.SaveResult(ctx, want, time.Minute); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	got, ok, err := st.LoadResult(ctx, "get_state_1")
	if err != nil || !ok {
		t.Fatalf("LoadResult returned ok=%v err=%v", ok, err)
	}
	if !got.Success || got.ID != want.ID {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	if ttl := mr.TTL("result:get_state_1"); ttl != time.Minute {
		t.Errorf("Expected TTL 1m, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := st.LoadResult(ctx, "get_state_1"); ok {
		t.Error("Result should expire after TTL")
	}
}
