package drivefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/driftsync/driftsync/internal/token"
)

type HTTPClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// RequestsPerSecond caps outbound calls; the remote is rate limited and
	// unbounded fan-out just converts into 429s.
	RequestsPerSecond float64
	RequestBurst      int
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://graph.microsoft.com/v1.0"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := opts.RequestBurst
	if burst <= 0 {
		burst = 5
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// ---- wire structures (Graph-style drive API) ----

type driveItemWire struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Size            int64  `json:"size"`
	ParentReference *struct {
		ID      string `json:"id"`
		DriveID string `json:"driveId"`
		Path    string `json:"path"`
	} `json:"parentReference"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
	File *struct {
		Hashes struct {
			QuickXorHash string `json:"quickXorHash"`
			SHA256Hash   string `json:"sha256Hash"`
		} `json:"hashes"`
	} `json:"file"`
	Deleted *struct {
		State string `json:"state"`
	} `json:"deleted"`
}

type deltaPageWire struct {
	Value     []driveItemWire `json:"value"`
	NextLink  string          `json:"@odata.nextLink"`
	DeltaLink string          `json:"@odata.deltaLink"`
}

type permissionWire struct {
	Roles       []string `json:"roles"`
	GrantedToV2 *struct {
		User *struct {
			Email       string `json:"email"`
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"grantedToV2"`
	Link *struct {
		Scope string `json:"scope"`
	} `json:"link"`
}

func itemFromWire(w driveItemWire, driveID string) Item {
	item := Item{
		ID:      w.ID,
		DriveID: driveID,
		Name:    w.Name,
		Size:    w.Size,
		Folder:  w.Folder != nil,
		Deleted: w.Deleted != nil,
	}
	if w.ParentReference != nil {
		item.ParentID = w.ParentReference.ID
		if w.ParentReference.DriveID != "" {
			item.DriveID = w.ParentReference.DriveID
		}
		// Graph encodes the parent path as "/drives/{id}/root:/Sub/Folder".
		if idx := strings.Index(w.ParentReference.Path, ":"); idx >= 0 {
			hint := strings.TrimPrefix(w.ParentReference.Path[idx+1:], "/")
			if decoded, err := url.PathUnescape(hint); err == nil {
				hint = decoded
			}
			item.PathHint = hint
		}
	}
	if w.File != nil {
		item.Hash = w.File.Hashes.QuickXorHash
		if item.Hash == "" {
			item.Hash = w.File.Hashes.SHA256Hash
		}
	}
	return item
}

// ---- Client implementation ----

func (c *HTTPClient) Changes(ctx context.Context, tokens TokenSource, driveID, itemID, cursor string) (ChangeBatch, error) {
	batch, err := c.drainDelta(ctx, tokens, driveID, itemID, cursor)
	if err == nil {
		batch.Reset = cursor == ""
		return batch, nil
	}
	if StatusOf(err) != http.StatusGone {
		return ChangeBatch{}, err
	}
	// Cursor no longer resumable: full re-enumeration, fresh cursor. This is
	// recovery, not an error, but the caller must rebuild its folder map.
	batch, err = c.drainDelta(ctx, tokens, driveID, itemID, "")
	if err != nil {
		return ChangeBatch{}, fmt.Errorf("%w: re-enumeration failed: %v", ErrCursorInvalidated, err)
	}
	batch.Reset = true
	return batch, nil
}

// drainDelta follows the pagination chain to the end; partial pages are
// never surfaced.
func (c *HTTPClient) drainDelta(ctx context.Context, tokens TokenSource, driveID, itemID, cursor string) (ChangeBatch, error) {
	next := cursor
	if next == "" {
		next = fmt.Sprintf("%s/drives/%s/items/%s/delta",
			c.baseURL, url.PathEscape(driveID), url.PathEscape(itemID))
	}
	var items []Item
	for {
		var page deltaPageWire
		if err := c.getJSON(ctx, tokens, next, &page); err != nil {
			return ChangeBatch{}, err
		}
		for _, wire := range page.Value {
			items = append(items, itemFromWire(wire, driveID))
		}
		switch {
		case page.NextLink != "":
			next = page.NextLink
		case page.DeltaLink != "":
			return ChangeBatch{Items: items, Cursor: page.DeltaLink}, nil
		default:
			return ChangeBatch{}, fmt.Errorf("delta page missing continuation link")
		}
	}
}

func (c *HTTPClient) Item(ctx context.Context, tokens TokenSource, driveID, itemID string) (Item, error) {
	requestURL := fmt.Sprintf("%s/drives/%s/items/%s",
		c.baseURL, url.PathEscape(driveID), url.PathEscape(itemID))
	var wire driveItemWire
	if err := c.getJSON(ctx, tokens, requestURL, &wire); err != nil {
		return Item{}, err
	}
	return itemFromWire(wire, driveID), nil
}

func (c *HTTPClient) Download(ctx context.Context, tokens TokenSource, driveID, itemID string) ([]byte, error) {
	requestURL := fmt.Sprintf("%s/drives/%s/items/%s/content",
		c.baseURL, url.PathEscape(driveID), url.PathEscape(itemID))
	body, err := c.getRaw(ctx, tokens, requestURL)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *HTTPClient) Permissions(ctx context.Context, tokens TokenSource, driveID, itemID string) (SourceACL, error) {
	requestURL := fmt.Sprintf("%s/drives/%s/items/%s/permissions",
		c.baseURL, url.PathEscape(driveID), url.PathEscape(itemID))
	var page struct {
		Value []permissionWire `json:"value"`
	}
	if err := c.getJSON(ctx, tokens, requestURL, &page); err != nil {
		return SourceACL{}, err
	}
	acl := SourceACL{}
	for _, wire := range page.Value {
		if wire.GrantedToV2 == nil || wire.GrantedToV2.User == nil {
			// Sharing links carry no identity to map.
			continue
		}
		email := strings.TrimSpace(wire.GrantedToV2.User.Email)
		if email == "" {
			continue
		}
		acl.Entries = append(acl.Entries, Permission{
			Email: email,
			Roles: append([]string(nil), wire.Roles...),
		})
		for _, role := range wire.Roles {
			if role == "owner" && acl.OwnerEmail == "" {
				acl.OwnerEmail = email
			}
		}
	}
	return acl, nil
}

// ---- transport plumbing ----

func (c *HTTPClient) getJSON(ctx context.Context, tokens TokenSource, requestURL string, out any) error {
	body, err := c.getRaw(ctx, tokens, requestURL)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *HTTPClient) getRaw(ctx context.Context, tokens TokenSource, requestURL string) ([]byte, error) {
	retriedAuth := false
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		bearer, err := tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+bearer)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return payload, nil
		}
		if resp.StatusCode == http.StatusUnauthorized {
			// The source considered the token valid but the remote did not:
			// revoked server-side, or clock skew. Force one refresh and retry;
			// a second rejection means the grant itself is dead.
			if inv, ok := tokens.(TokenInvalidator); ok && !retriedAuth {
				retriedAuth = true
				inv.Invalidate()
				continue
			}
			return nil, fmt.Errorf("%w: drive rejected the access token", token.ErrReauthRequired)
		}
		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		var errPayload struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Error.Code,
			Message:    errPayload.Error.Message,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
