package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/driftsync/driftsync/internal/drivefeed"
	"github.com/driftsync/driftsync/internal/knowledge"
)

func seedScheduled(t *testing.T, store knowledge.Store, targetID string, mutate func(*knowledge.SyncMetadata)) {
	t.Helper()
	_, err := store.Update(context.Background(), targetID, func(r *knowledge.Record) error {
		r.Sync.Sources = []knowledge.SyncSource{{
			Kind:       knowledge.SourceFolder,
			ExternalID: "root-" + targetID,
			DriveID:    "d1",
		}}
		r.Sync.IntervalSeconds = 300
		if mutate != nil {
			mutate(&r.Sync)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed %s failed: %v", targetID, err)
	}
}

func newTestScheduler(t *testing.T, store knowledge.Store, engine *Engine, now time.Time) *Scheduler {
	t.Helper()
	scheduler, err := NewScheduler(SchedulerOptions{
		Engine: engine,
		Store:  store,
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new scheduler failed: %v", err)
	}
	return scheduler
}

func TestTickStartsOnlyDueTargets(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := knowledge.NewMemoryStore()
	feed := newFakeFeed()
	pipeline := newFakePipeline()

	// kt-due last synced beyond its interval; kt-fresh within it.
	stale := now.Add(-10 * time.Minute)
	recent := now.Add(-time.Minute)
	seedScheduled(t, store, "kt-due", func(m *knowledge.SyncMetadata) {
		m.LastSyncedAt = &stale
	})
	seedScheduled(t, store, "kt-fresh", func(m *knowledge.SyncMetadata) {
		m.LastSyncedAt = &recent
	})

	feed.items["root-kt-due"] = drivefeed.Item{ID: "root-kt-due", DriveID: "d1", Folder: true}
	feed.batches[batchKey("root-kt-due", "")] = drivefeed.ChangeBatch{Reset: true, Cursor: "c1"}

	engine := newTestEngine(t, store, feed, pipeline, Options{})
	scheduler := newTestScheduler(t, store, engine, now)

	scheduler.Tick(context.Background())
	waitForStatus(t, store, "kt-due", knowledge.StatusCompleted)
	engine.Close()

	record, err := store.Get(context.Background(), "kt-fresh")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Sync.Status != knowledge.StatusIdle {
		t.Fatalf("expected fresh target untouched, got %q", record.Sync.Status)
	}
}

func TestTickTreatsNeverSyncedAsDue(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := knowledge.NewMemoryStore()
	feed := newFakeFeed()
	feed.items["root-kt-1"] = drivefeed.Item{ID: "root-kt-1", DriveID: "d1", Folder: true}
	feed.batches[batchKey("root-kt-1", "")] = drivefeed.ChangeBatch{Reset: true, Cursor: "c1"}
	seedScheduled(t, store, "kt-1", nil)

	engine := newTestEngine(t, store, feed, newFakePipeline(), Options{})
	scheduler := newTestScheduler(t, store, engine, now)

	scheduler.Tick(context.Background())
	waitForStatus(t, store, "kt-1", knowledge.StatusCompleted)
	engine.Close()
}

func TestTickSkipsUnscheduledAndSourcelessTargets(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := knowledge.NewMemoryStore()

	// No interval configured.
	seedScheduled(t, store, "kt-manual", func(m *knowledge.SyncMetadata) {
		m.IntervalSeconds = 0
	})
	// Interval configured but nothing to sync.
	seedScheduled(t, store, "kt-empty", func(m *knowledge.SyncMetadata) {
		m.Sources = nil
	})

	engine := newTestEngine(t, store, newFakeFeed(), newFakePipeline(), Options{})
	scheduler := newTestScheduler(t, store, engine, now)

	scheduler.Tick(context.Background())
	engine.Close()

	for _, targetID := range []string{"kt-manual", "kt-empty"} {
		record, err := store.Get(context.Background(), targetID)
		if err != nil {
			t.Fatalf("get %s failed: %v", targetID, err)
		}
		if record.Sync.Status != knowledge.StatusIdle {
			t.Fatalf("expected %s untouched, got %q", targetID, record.Sync.Status)
		}
	}
}

func TestTickBacksOffTargetsInFailureStates(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := knowledge.NewMemoryStore()
	recent := now.Add(-time.Minute)

	failures := map[string]knowledge.Status{
		"kt-failed":  knowledge.StatusFailed,
		"kt-revoked": knowledge.StatusAccessRevoked,
		"kt-limited": knowledge.StatusFileLimitExceeded,
	}
	for targetID, status := range failures {
		status := status
		seedScheduled(t, store, targetID, func(m *knowledge.SyncMetadata) {
			m.Status = status
			m.FinishedAt = &recent
		})
	}

	// An unscripted feed would end any started run in a different state, so
	// an unchanged status proves no run was started.
	engine := newTestEngine(t, store, newFakeFeed(), newFakePipeline(), Options{})
	scheduler := newTestScheduler(t, store, engine, now)
	for i := 0; i < 5; i++ {
		scheduler.Tick(context.Background())
	}
	engine.Close()

	for targetID, status := range failures {
		record, err := store.Get(context.Background(), targetID)
		if err != nil {
			t.Fatalf("get %s failed: %v", targetID, err)
		}
		if record.Sync.Status != status {
			t.Fatalf("expected %s to back off, got %q", targetID, record.Sync.Status)
		}
	}
}

func TestTickRetriesFailedTargetAfterBackoff(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := knowledge.NewMemoryStore()
	feed := newFakeFeed()
	feed.items["root-kt-1"] = drivefeed.Item{ID: "root-kt-1", DriveID: "d1", Folder: true}
	feed.batches[batchKey("root-kt-1", "")] = drivefeed.ChangeBatch{Reset: true, Cursor: "c1"}

	old := now.Add(-10 * time.Minute)
	seedScheduled(t, store, "kt-1", func(m *knowledge.SyncMetadata) {
		m.Status = knowledge.StatusFailed
		m.FinishedAt = &old
	})

	engine := newTestEngine(t, store, feed, newFakePipeline(), Options{})
	scheduler := newTestScheduler(t, store, engine, now)
	scheduler.Tick(context.Background())
	waitForStatus(t, store, "kt-1", knowledge.StatusCompleted)
	engine.Close()
}

func TestTickSkipsTargetAlreadySyncing(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := knowledge.NewMemoryStore()
	seedScheduled(t, store, "kt-busy", func(m *knowledge.SyncMetadata) {
		m.Status = knowledge.StatusSyncing
	})

	// The feed has no script for this target; a started run would fail loudly.
	engine := newTestEngine(t, store, newFakeFeed(), newFakePipeline(), Options{})
	scheduler := newTestScheduler(t, store, engine, now)

	scheduler.Tick(context.Background())
	engine.Close()

	record, err := store.Get(context.Background(), "kt-busy")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Sync.Status != knowledge.StatusSyncing {
		t.Fatalf("expected busy target left alone, got %q", record.Sync.Status)
	}
}
