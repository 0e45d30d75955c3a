// Package drivefeed talks to the remote drive API: cursor-based recursive
// change feeds over a folder subtree, item metadata, content download, and
// the source-side permission list.
package drivefeed

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCursorInvalidated signals that the remote rejected a delta cursor as
	// no longer resumable. The HTTP client recovers internally by falling
	// back to a full re-enumeration; callers only see it when recovery fails.
	ErrCursorInvalidated = errors.New("cursor invalidated")
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("drive api %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("drive api %d: %s", e.StatusCode, e.Message)
}

// StatusOf extracts the HTTP status from err, or 0 when err is not an
// *HTTPError.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsGone reports whether err means the item no longer exists upstream.
func IsGone(err error) bool {
	status := StatusOf(err)
	return status == 404 || status == 410
}

// Item is one entry of a change feed or a direct metadata lookup. The feed
// is flat: folders and files arrive parent-id-linked in arbitrary order.
type Item struct {
	ID       string
	DriveID  string
	Name     string
	ParentID string
	Folder   bool
	Deleted  bool
	Hash     string
	Size     int64
	// PathHint is the feed-provided parent path when the deployment includes
	// it. Resolvers validate it against their own map rather than trusting
	// it blindly; it may be empty in any configuration.
	PathHint string
}

// ChangeBatch is one fully drained feed response. Reset is true when the
// batch came from a full re-enumeration (first sync or cursor invalidation)
// and the caller must rebuild its folder map instead of patching it.
type ChangeBatch struct {
	Items  []Item
	Cursor string
	Reset  bool
}

// Permission is one email-keyed entry of a source access list.
type Permission struct {
	Email string
	Roles []string
}

// SourceACL is the remote system's access list for a folder or file.
type SourceACL struct {
	OwnerEmail string
	Entries    []Permission
}

// TokenSource supplies a currently valid bearer token for the drive API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenInvalidator is implemented by token sources that cache credentials.
// The client calls it after the remote rejects a token the source still
// considered valid, so the retry fetches a freshly refreshed one.
type TokenInvalidator interface {
	Invalidate()
}

// Client is the change-feed contract consumed by the sync worker.
type Client interface {
	// Changes returns the items changed since cursor, with pagination fully
	// drained. An empty cursor, or a cursor the remote has invalidated,
	// yields a full re-enumeration with Reset set.
	Changes(ctx context.Context, tokens TokenSource, driveID, itemID, cursor string) (ChangeBatch, error)
	Item(ctx context.Context, tokens TokenSource, driveID, itemID string) (Item, error)
	Download(ctx context.Context, tokens TokenSource, driveID, itemID string) ([]byte, error)
	Permissions(ctx context.Context, tokens TokenSource, driveID, itemID string) (SourceACL, error)
}
