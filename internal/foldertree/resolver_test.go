package foldertree

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/driftsync/driftsync/internal/drivefeed"
)

func folder(id, parentID, name string) drivefeed.Item {
	return drivefeed.Item{ID: id, ParentID: parentID, Name: name, Folder: true}
}

func TestApplyResolvesOutOfOrderFolders(t *testing.T) {
	resolver := NewResolver("root")
	// Child announced before its parent within the same batch.
	resolver.Apply([]drivefeed.Item{
		folder("grand", "sub", "Archive"),
		folder("sub", "root", "Reports"),
	})

	want := map[string]string{
		"root":  "",
		"sub":   "Reports",
		"grand": "Reports/Archive",
	}
	if diff := cmp.Diff(want, resolver.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestFilePathFallsBackToBareName(t *testing.T) {
	resolver := NewResolver("root")
	file := drivefeed.Item{ID: "f1", ParentID: "unknown", Name: "orphan.pdf"}
	if got := resolver.FilePath(file); got != "orphan.pdf" {
		t.Fatalf("expected bare-name fallback, got %q", got)
	}

	resolver.Apply([]drivefeed.Item{folder("sub", "root", "Reports")})
	file.ParentID = "sub"
	if got := resolver.FilePath(file); got != "Reports/orphan.pdf" {
		t.Fatalf("expected resolved path, got %q", got)
	}
}

func TestRenameRebasesDescendants(t *testing.T) {
	resolver := NewResolver("root")
	resolver.Apply([]drivefeed.Item{
		folder("sub", "root", "Reports"),
		folder("grand", "sub", "Archive"),
	})

	resolver.Apply([]drivefeed.Item{folder("sub", "root", "Summaries")})

	if got, _ := resolver.PathOf("grand"); got != "Summaries/Archive" {
		t.Fatalf("expected descendant rebased on rename, got %q", got)
	}
}

func TestDeletionPrunesSubtree(t *testing.T) {
	resolver := NewResolver("root")
	resolver.Apply([]drivefeed.Item{
		folder("sub", "root", "Reports"),
		folder("grand", "sub", "Archive"),
		folder("other", "root", "Notes"),
	})

	deleted := folder("sub", "root", "Reports")
	deleted.Deleted = true
	resolver.Apply([]drivefeed.Item{deleted})

	if _, ok := resolver.PathOf("sub"); ok {
		t.Fatalf("expected deleted folder pruned")
	}
	if _, ok := resolver.PathOf("grand"); ok {
		t.Fatalf("expected descendant pruned with its parent")
	}
	if _, ok := resolver.PathOf("other"); !ok {
		t.Fatalf("expected sibling to survive")
	}
}

func TestLoadRepinsRootAndPersistsAcrossBatches(t *testing.T) {
	first := NewResolver("root")
	first.Apply([]drivefeed.Item{folder("sub", "root", "Reports")})
	persisted := first.Snapshot()

	// Incremental feeds do not re-announce unchanged ancestors; a resolver
	// reloaded from the persisted map must still place their children.
	second := NewResolver("root")
	second.Load(persisted)
	second.Apply([]drivefeed.Item{folder("grand", "sub", "Archive")})

	if got, _ := second.PathOf("grand"); got != "Reports/Archive" {
		t.Fatalf("expected path from persisted ancestors, got %q", got)
	}
}

func TestValidatedHintPlacesUnresolvableFolder(t *testing.T) {
	resolver := NewResolver("root")
	// Hints are drive absolute; the first item pins the root's own position.
	// Parent "mystery" is never announced, but its hint sits inside the
	// learned root subtree, so it is accepted as a pre-resolved shortcut.
	resolver.Apply([]drivefeed.Item{
		{ID: "sub", ParentID: "root", Name: "Reports", Folder: true, PathHint: "Synced"},
		{ID: "deep", ParentID: "mystery", Name: "Deep", Folder: true, PathHint: "Synced/Reports/Nested"},
	})

	if got, _ := resolver.PathOf("deep"); got != "Reports/Nested/Deep" {
		t.Fatalf("expected hint-placed folder, got %q", got)
	}
}

func TestHintOutsideRootSubtreeIgnored(t *testing.T) {
	resolver := NewResolver("root")
	resolver.Apply([]drivefeed.Item{
		{ID: "sub", ParentID: "root", Name: "Reports", Folder: true, PathHint: "Synced"},
		{ID: "alien", ParentID: "elsewhere", Name: "Alien", Folder: true, PathHint: "Unrelated/Path"},
	})

	if _, ok := resolver.PathOf("alien"); ok {
		t.Fatalf("expected out-of-subtree hint to be ignored")
	}
}
