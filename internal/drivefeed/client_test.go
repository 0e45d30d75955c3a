package drivefeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftsync/driftsync/internal/token"
)

type staticToken string

func (s staticToken) Token(ctx context.Context) (string, error) { return string(s), nil }

func testClient(baseURL string) *HTTPClient {
	return NewHTTPClient(HTTPClientOptions{
		BaseURL:           baseURL,
		MaxRetries:        2,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		RequestsPerSecond: 1000,
		RequestBurst:      100,
	})
}

func TestChangesDrainsPagination(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		switch r.URL.Path {
		case "/drives/d1/items/root-1/delta":
			fmt.Fprintf(w, `{
				"value": [{"id": "f1", "name": "report.pdf", "file": {"hashes": {"quickXorHash": "h1"}}, "parentReference": {"id": "root-1"}}],
				"@odata.nextLink": %q
			}`, server.URL+"/page2")
		case "/page2":
			fmt.Fprint(w, `{
				"value": [{"id": "sub-1", "name": "Reports", "folder": {"childCount": 1}, "parentReference": {"id": "root-1"}}],
				"@odata.deltaLink": "https://example.invalid/delta?token=final"
			}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	batch, err := client.Changes(context.Background(), staticToken("tok-1"), "d1", "root-1", "")
	if err != nil {
		t.Fatalf("changes failed: %v", err)
	}
	if !batch.Reset {
		t.Fatalf("expected Reset on first enumeration")
	}
	if len(batch.Items) != 2 {
		t.Fatalf("expected both pages drained, got %d items", len(batch.Items))
	}
	if batch.Items[0].Hash != "h1" || batch.Items[0].Folder {
		t.Fatalf("unexpected file item: %+v", batch.Items[0])
	}
	if !batch.Items[1].Folder {
		t.Fatalf("expected folder item: %+v", batch.Items[1])
	}
	if batch.Cursor != "https://example.invalid/delta?token=final" {
		t.Fatalf("unexpected cursor %q", batch.Cursor)
	}
}

func TestChangesRecoversInvalidatedCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stale":
			w.WriteHeader(http.StatusGone)
			fmt.Fprint(w, `{"error": {"code": "resyncRequired", "message": "token expired"}}`)
		case "/drives/d1/items/root-1/delta":
			fmt.Fprint(w, `{
				"value": [{"id": "f1", "name": "report.pdf", "file": {"hashes": {}}, "parentReference": {"id": "root-1"}}],
				"@odata.deltaLink": "fresh-cursor"
			}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	batch, err := client.Changes(context.Background(), staticToken("t"), "d1", "root-1", server.URL+"/stale")
	if err != nil {
		t.Fatalf("expected internal recovery, got %v", err)
	}
	if !batch.Reset {
		t.Fatalf("expected Reset after cursor invalidation")
	}
	if batch.Cursor != "fresh-cursor" {
		t.Fatalf("unexpected cursor %q", batch.Cursor)
	}
}

func TestGetRawRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"value": [], "@odata.deltaLink": "c1"}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	batch, err := client.Changes(context.Background(), staticToken("t"), "d1", "root-1", "")
	if err != nil {
		t.Fatalf("changes failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
	if batch.Cursor != "c1" {
		t.Fatalf("unexpected cursor %q", batch.Cursor)
	}
}

func TestGetRawSurfacesErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"code": "itemNotFound", "message": "no such item"}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Item(context.Background(), staticToken("t"), "d1", "gone-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsGone(err) {
		t.Fatalf("expected gone classification, got %v", err)
	}
	if StatusOf(err) != http.StatusNotFound {
		t.Fatalf("unexpected status %d", StatusOf(err))
	}
}

type rotatingToken struct {
	mu          sync.Mutex
	current     string
	invalidated int
}

func (r *rotatingToken) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, nil
}

func (r *rotatingToken) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated++
	r.current = "tok-fresh"
}

func TestGetRawRefreshesOnceOnUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error": {"code": "InvalidAuthenticationToken"}}`)
			return
		}
		fmt.Fprint(w, `{"id": "f1", "name": "report.pdf"}`)
	}))
	defer server.Close()

	tokens := &rotatingToken{current: "tok-stale"}
	client := testClient(server.URL)
	item, err := client.Item(context.Background(), tokens, "d1", "f1")
	if err != nil {
		t.Fatalf("item failed: %v", err)
	}
	if item.Name != "report.pdf" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if tokens.invalidated != 1 {
		t.Fatalf("expected a single invalidation, got %d", tokens.invalidated)
	}
}

func TestGetRawSurfacesReauthAfterSecondUnauthorized(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"code": "InvalidAuthenticationToken"}}`)
	}))
	defer server.Close()

	tokens := &rotatingToken{current: "tok-stale"}
	client := testClient(server.URL)
	_, err := client.Item(context.Background(), tokens, "d1", "f1")
	if !errors.Is(err, token.ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly one retry before giving up, got %d calls", calls.Load())
	}
}

func TestGetRawUnauthorizedWithoutInvalidator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Item(context.Background(), staticToken("t"), "d1", "f1")
	if !errors.Is(err, token.ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
}

func TestRetryDelayHonorsRetryAfter(t *testing.T) {
	client := NewHTTPClient(HTTPClientOptions{BaseURL: "http://example.invalid"})
	if got := client.retryDelay(1, "3"); got != 3*time.Second {
		t.Fatalf("expected server hint honored, got %v", got)
	}
	if got := client.retryDelay(1, "999"); got != client.maxDelay {
		t.Fatalf("expected hint capped at ceiling, got %v", got)
	}
}

func TestItemFromWireExtractsPathHint(t *testing.T) {
	wire := driveItemWire{ID: "f1", Name: "a.pdf"}
	wire.ParentReference = &struct {
		ID      string `json:"id"`
		DriveID string `json:"driveId"`
		Path    string `json:"path"`
	}{ID: "p1", DriveID: "d2", Path: "/drives/d2/root:/Synced/Reports"}

	item := itemFromWire(wire, "d1")
	if item.DriveID != "d2" {
		t.Fatalf("expected parent drive id to win, got %q", item.DriveID)
	}
	if item.PathHint != "Synced/Reports" {
		t.Fatalf("unexpected path hint %q", item.PathHint)
	}
}
