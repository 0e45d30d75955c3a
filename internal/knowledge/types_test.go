package knowledge

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecordRoundTripPreservesForeignKeys(t *testing.T) {
	raw := []byte(`{
		"title": "Quarterly Reports",
		"embedding": {"model": "small", "dims": 384},
		"accessControl": {
			"read": {"userIds": ["user-1"], "groupIds": []},
			"write": {"userIds": ["user-1"], "groupIds": []}
		},
		"sync": {
			"version": 1,
			"status": "idle",
			"sources": []
		}
	}`)

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		t.Fatalf("unmarshal record failed: %v", err)
	}
	if record.Sync.Status != StatusIdle {
		t.Fatalf("expected idle status, got %q", record.Sync.Status)
	}
	if diff := cmp.Diff([]string{"user-1"}, record.AccessControl.Read.UserIDs); diff != "" {
		t.Fatalf("access control mismatch (-want +got):\n%s", diff)
	}

	record.Sync.Status = StatusSyncing
	out, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal record failed: %v", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("re-decode failed: %v", err)
	}
	if string(doc["title"]) != `"Quarterly Reports"` {
		t.Fatalf("expected foreign title key to survive, got %s", doc["title"])
	}
	if _, ok := doc["embedding"]; !ok {
		t.Fatalf("expected foreign embedding key to survive")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name    string
		current Status
		next    Status
		want    bool
	}{
		{"idle to syncing", StatusIdle, StatusSyncing, true},
		{"empty to syncing", "", StatusSyncing, true},
		{"syncing to syncing refused", StatusSyncing, StatusSyncing, false},
		{"terminal to syncing allowed", StatusCancelled, StatusSyncing, true},
		{"syncing to completed", StatusSyncing, StatusCompleted, true},
		{"syncing to cancelled", StatusSyncing, StatusCancelled, true},
		{"cancelled never overwritten by completed", StatusCancelled, StatusCompleted, false},
		{"failed not overwritten by completed", StatusFailed, StatusCompleted, false},
		{"idle cannot jump to completed", StatusIdle, StatusCompleted, false},
		{"terminal refuses idle", StatusCompleted, StatusIdle, false},
		{"idle to idle", StatusIdle, StatusIdle, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.current, tc.next); got != tc.want {
				t.Fatalf("CanTransition(%q, %q) = %v, want %v", tc.current, tc.next, got, tc.want)
			}
		})
	}
}

func TestJobStateProjection(t *testing.T) {
	meta := SyncMetadata{
		Status:          StatusCompletedWithErrors,
		ProgressCurrent: 7,
		ProgressTotal:   9,
		Error:           "two files failed",
		LastResult:      &Report{FilesProcessed: 7, FilesFailed: 2, TotalFound: 9},
	}
	state := meta.JobState()
	if state.Status != StatusCompletedWithErrors || state.ProgressCurrent != 7 || state.ProgressTotal != 9 {
		t.Fatalf("unexpected projection: %+v", state)
	}
	if state.LastResult == nil || state.LastResult.FilesFailed != 2 {
		t.Fatalf("expected report carried through, got %+v", state.LastResult)
	}
}
