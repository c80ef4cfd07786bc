package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rmax-ai/rolematch/pkg/blob"
	"github.com/rmax-ai/rolematch/pkg/graph"
	"github.com/rmax-ai/rolematch/pkg/graph/graphtest"
)

func TestSnapshotWorker_TakeAndLoad(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewLocalBlobStore(t.TempDir())
	mem := graphtest.NewMemory()

	// Commit an assignment so the snapshot differs from the fixture.
	svc := NewService(mem)
	if _, err := svc.Coordinator().Assign(ctx, assignNurse()); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	w := NewSnapshotWorker(mem, blobs, time.Minute, 0, nil, nil)
	key, err := w.TakeSnapshot(ctx)
	if err != nil {
		t.Fatalf("TakeSnapshot failed: %v", err)
	}
	if key == "" {
		t.Fatal("expected a snapshot key")
	}

	restored := graph.NewMemory()
	loaded, err := LoadLatestSnapshot(ctx, blobs, restored)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot failed: %v", err)
	}
	if loaded != key {
		t.Errorf("loaded %s, want %s", loaded, key)
	}
	if got := restored.CountEdges(graphtest.RoleNurse12, graph.EdgeAssignedTo); got != 1 {
		t.Errorf("restored graph has %d assignments to the nurse role, want 1", got)
	}
}

func TestSnapshotWorker_KeepsNewest(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewLocalBlobStore(t.TempDir())
	w := NewSnapshotWorker(graphtest.NewMemory(), blobs, time.Minute, 2, nil, nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var keys []string
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		w.now = func() time.Time { return at }
		key, err := w.TakeSnapshot(ctx)
		if err != nil {
			t.Fatalf("TakeSnapshot failed: %v", err)
		}
		keys = append(keys, key)
	}

	got, err := blobs.List(ctx, SnapshotPrefix)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0] != keys[2] || got[1] != keys[3] {
		t.Errorf("kept %v, want %v", got, keys[2:])
	}
}

func TestSnapshotWorker_GateSkips(t *testing.T) {
	blobs := blob.NewLocalBlobStore(t.TempDir())
	w := NewSnapshotWorker(graphtest.NewMemory(), blobs, time.Minute, 0, func() bool { return false }, nil)

	key, err := w.TakeSnapshot(context.Background())
	if err != nil || key != "" {
		t.Fatalf("TakeSnapshot = %q, %v; want skipped", key, err)
	}
}

func TestLoadLatestSnapshot_Empty(t *testing.T) {
	key, err := LoadLatestSnapshot(context.Background(), blob.NewLocalBlobStore(t.TempDir()), graph.NewMemory())
	if err != nil || key != "" {
		t.Fatalf("LoadLatestSnapshot = %q, %v; want empty", key, err)
	}
}

func TestSnapshotKey_SortsChronologically(t *testing.T) {
	early := SnapshotKey(time.Unix(9, 0))
	late := SnapshotKey(time.Unix(10, 0))
	if early >= late {
		t.Errorf("%s should sort before %s", early, late)
	}
}
