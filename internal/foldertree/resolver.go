// Package foldertree reconstructs hierarchical relative paths from the flat,
// parent-id-linked items a change feed returns.
package foldertree

import (
	"strings"

	"github.com/driftsync/driftsync/internal/drivefeed"
)

// Resolver maps folder external ids to paths relative to the sync root
// (the root itself maps to ""). The map must be persisted alongside the
// cursor: incremental feeds do not re-announce unchanged ancestors, so a map
// rebuilt from a single batch would be incomplete.
type Resolver struct {
	rootID string
	paths  map[string]string
	// rootHint is the drive-absolute path of the sync root, learned from
	// feed-provided path metadata. Needed to translate absolute hints into
	// root-relative paths before they can be validated.
	rootHint string
}

func NewResolver(rootID string) *Resolver {
	return &Resolver{
		rootID: rootID,
		paths:  map[string]string{rootID: ""},
	}
}

// Load seeds the resolver from a persisted folder map. The root entry is
// always re-pinned to "".
func (r *Resolver) Load(persisted map[string]string) {
	for id, path := range persisted {
		r.paths[id] = path
	}
	r.paths[r.rootID] = ""
}

// Reset drops everything but the root. Used after a full re-enumeration.
func (r *Resolver) Reset() {
	r.paths = map[string]string{r.rootID: ""}
}

// Apply folds a change batch into the map. Folders may appear before or
// after their parents within one batch, so resolution iterates to a fixed
// point instead of assuming any ordering. Renames rebase every descendant;
// deletions prune the subtree.
func (r *Resolver) Apply(items []drivefeed.Item) {
	for _, item := range items {
		if item.ParentID == r.rootID && item.PathHint != "" && r.rootHint == "" {
			r.rootHint = strings.Trim(item.PathHint, "/")
		}
	}
	for _, item := range items {
		if item.Folder && item.Deleted && item.ID != r.rootID {
			r.prune(item.ID)
		}
	}

	pending := make([]drivefeed.Item, 0, len(items))
	for _, item := range items {
		if item.Folder && !item.Deleted && item.ID != r.rootID {
			pending = append(pending, item)
		}
	}
	for len(pending) > 0 {
		progressed := false
		remaining := pending[:0]
		for _, item := range pending {
			parentPath, ok := r.paths[item.ParentID]
			if !ok {
				remaining = append(remaining, item)
				continue
			}
			r.place(item.ID, join(parentPath, item.Name))
			progressed = true
		}
		pending = remaining
		if !progressed {
			break
		}
	}

	// Unresolvable folders with a consistent feed-provided path are accepted
	// as a pre-resolved shortcut; an inconsistent hint is ignored.
	for _, item := range pending {
		if hint := r.validatedHint(item); hint != "" {
			r.place(item.ID, join(hint, item.Name))
		}
	}
}

// FilePath computes the relative path for a file item, falling back to the
// bare name when the parent is still unresolved.
func (r *Resolver) FilePath(item drivefeed.Item) string {
	if parentPath, ok := r.paths[item.ParentID]; ok {
		return join(parentPath, item.Name)
	}
	if hint := r.validatedHint(item); hint != "" {
		return join(hint, item.Name)
	}
	return item.Name
}

// PathOf returns the resolved path for a folder id.
func (r *Resolver) PathOf(folderID string) (string, bool) {
	path, ok := r.paths[folderID]
	return path, ok
}

// Snapshot returns a copy suitable for persistence next to the cursor.
func (r *Resolver) Snapshot() map[string]string {
	out := make(map[string]string, len(r.paths))
	for id, path := range r.paths {
		out[id] = path
	}
	return out
}

func (r *Resolver) place(folderID, path string) {
	old, existed := r.paths[folderID]
	r.paths[folderID] = path
	if !existed || old == path {
		return
	}
	// Rename or move: every descendant path changes, not just this entry.
	prefix := old + "/"
	if old == "" {
		return
	}
	for id, p := range r.paths {
		if id == folderID {
			continue
		}
		if strings.HasPrefix(p, prefix) {
			r.paths[id] = path + "/" + strings.TrimPrefix(p, prefix)
		}
	}
}

func (r *Resolver) prune(folderID string) {
	path, ok := r.paths[folderID]
	if !ok {
		return
	}
	delete(r.paths, folderID)
	if path == "" {
		return
	}
	prefix := path + "/"
	for id, p := range r.paths {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(r.paths, id)
		}
	}
}

// validatedHint cross-checks a feed-provided parent path against the sync
// root's learned drive-absolute position before using it. Hints outside the
// root subtree, or hints for items whose parent is already resolved, yield
// nothing: a known parent always wins.
func (r *Resolver) validatedHint(item drivefeed.Item) string {
	if item.PathHint == "" || r.rootHint == "" {
		return ""
	}
	if _, ok := r.paths[item.ParentID]; ok {
		return ""
	}
	hint := strings.Trim(item.PathHint, "/")
	if hint == r.rootHint {
		return ""
	}
	if strings.HasPrefix(hint, r.rootHint+"/") {
		return strings.TrimPrefix(hint, r.rootHint+"/")
	}
	return ""
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
