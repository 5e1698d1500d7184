package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/steveyegge/bdsync/internal/storage"
	"github.com/steveyegge/bdsync/internal/storage/memory"
	"github.com/steveyegge/bdsync/internal/types"
)

func TestWrapStoreDisabledReturnsInner(t *testing.T) {
	if err := Init(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}
	inner := memory.New()
	if got := WrapStore(inner); got != storage.Store(inner) {
		t.Fatalf("expected inner store when telemetry is off")
	}
}

func TestInstrumentedStoreDelegates(t *testing.T) {
	inner := memory.New()
	inner.Put(&types.IssueRecord{ID: "bd-1", Fields: types.Fields{types.FieldTitle: "x"}})
	s := newInstrumentedStore(inner)
	ctx := context.Background()

	local, _, err := s.Load(ctx, "bd-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	next := local.With(types.Fields{types.FieldTitle: "y"})
	if err := s.SaveLocal(ctx, "bd-1", next); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := inner.Local("bd-1")[types.FieldTitle]; got != "y" {
		t.Errorf("title = %v, want y", got)
	}
	if err := s.SaveBase(ctx, "bd-1", types.NewSnapshot(types.OriginBase, types.Fields{types.FieldTitle: "y"}, time.Now())); err != nil {
		t.Fatalf("save base: %v", err)
	}
	ids, err := s.List(ctx)
	if err != nil || len(ids) != 1 {
		t.Fatalf("list = %v, %v", ids, err)
	}

	unlock, err := s.LockIssue(ctx, "bd-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestInitEnabledWrapsStore(t *testing.T) {
	var out bytes.Buffer
	ctx := context.Background()
	if err := Init(ctx, Options{Enabled: true, Version: "test", Output: &out}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Shutdown(context.Background()) })
	if !Enabled() {
		t.Fatal("Enabled() = false after Init")
	}

	s := WrapStore(memory.New())
	if _, ok := s.(*InstrumentedStore); !ok {
		t.Fatalf("WrapStore returned %T", s)
	}
	if _, err := s.List(ctx); err != nil {
		t.Fatal(err)
	}
	if err := Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if Enabled() {
		t.Error("Enabled() should be false after Shutdown")
	}
	if !bytes.Contains(out.Bytes(), []byte("storage.List")) {
		t.Errorf("expected the List span on the exporter output, got %q", out.String())
	}
}
