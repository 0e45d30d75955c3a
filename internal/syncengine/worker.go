// Package syncengine orchestrates sync runs: per-target state machine,
// bounded-concurrency file processing, cancellation, progress reporting, and
// persistence of cursors and folder maps.
package syncengine

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/driftsync/driftsync/internal/access"
	"github.com/driftsync/driftsync/internal/drivefeed"
	"github.com/driftsync/driftsync/internal/foldertree"
	"github.com/driftsync/driftsync/internal/ingest"
	"github.com/driftsync/driftsync/internal/knowledge"
	"github.com/driftsync/driftsync/internal/token"
)

var (
	// ErrAlreadySyncing is returned when a start request hits a target whose
	// persisted status is already Syncing. The caller sees a conflict; the
	// request is never queued behind the live run.
	ErrAlreadySyncing = errors.New("sync already in progress")

	// ErrFileLimitExceeded aborts a run whose change feed announced more
	// files than the configured per-run ceiling.
	ErrFileLimitExceeded = errors.New("file limit exceeded")

	// errStaleRun aborts a progress write that would land on a record no
	// longer in the Syncing state.
	errStaleRun = errors.New("run is no longer active")
)

// ProgressEvent is emitted after every progress change during a run.
type ProgressEvent struct {
	TargetID string           `json:"targetId"`
	Current  int              `json:"current"`
	Total    int              `json:"total"`
	Status   knowledge.Status `json:"status"`
}

type Options struct {
	Store      knowledge.Store
	Feed       drivefeed.Client
	Pipeline   ingest.Pipeline
	Identities access.IdentityResolver
	// TokenSource yields the credential source for one knowledge target.
	TokenSource func(targetID string) drivefeed.TokenSource
	// MaxWorkers bounds concurrent file processing within one run.
	MaxWorkers int
	// MaxItemsPerRun halts a run with FileLimitExceeded when the feed
	// announces more files than this. Zero means no ceiling.
	MaxItemsPerRun int
	OnProgress     func(ProgressEvent)
	Logger         *log.Logger
	Now            func() time.Time
}

// Engine runs sync jobs. All shared state lives in the knowledge store;
// concurrent engines (or processes) coordinate through the persisted status,
// not through memory.
type Engine struct {
	store       knowledge.Store
	feed        drivefeed.Client
	pipeline    ingest.Pipeline
	identities  access.IdentityResolver
	tokenSource func(targetID string) drivefeed.TokenSource
	maxWorkers  int64
	maxItems    int
	onProgress  func(ProgressEvent)
	logger      *log.Logger
	now         func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Feed == nil || opts.Pipeline == nil || opts.TokenSource == nil {
		return nil, errors.New("syncengine: store, feed, pipeline and token source are required")
	}
	maxWorkers := int64(opts.MaxWorkers)
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(logDiscard{}, "", 0)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:       opts.Store,
		feed:        opts.Feed,
		pipeline:    opts.Pipeline,
		identities:  opts.Identities,
		tokenSource: opts.TokenSource,
		maxWorkers:  maxWorkers,
		maxItems:    opts.MaxItemsPerRun,
		onProgress:  opts.OnProgress,
		logger:      logger,
		now:         now,
		baseCtx:     baseCtx,
		cancel:      cancel,
	}, nil
}

type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }

// Start gates a new run for the target and executes it in the background.
// Returns ErrAlreadySyncing when a run is already in flight. A non-nil
// sources slice replaces the target's source set, carrying over cursors and
// folder maps for sources that persist.
func (e *Engine) Start(ctx context.Context, targetID string, sources []knowledge.SyncSource) error {
	record, err := e.gate(ctx, targetID, sources)
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(e.baseCtx, targetID, record)
	}()
	return nil
}

// RunOnce gates and executes a run synchronously, returning the terminal job
// state. Used by the CLI and the tests.
func (e *Engine) RunOnce(ctx context.Context, targetID string, sources []knowledge.SyncSource) (knowledge.JobState, error) {
	record, err := e.gate(ctx, targetID, sources)
	if err != nil {
		return knowledge.JobState{}, err
	}
	e.run(ctx, targetID, record)
	return e.Status(ctx, targetID)
}

// Cancel requests cancellation of the target's live run. The worker observes
// the persisted status at its next checkpoint; a target with no live run is
// left untouched. Unknown targets return ErrNotFound rather than being
// materialized by the conditional write.
func (e *Engine) Cancel(ctx context.Context, targetID string) error {
	if _, err := e.store.Get(ctx, targetID); err != nil {
		return err
	}
	_, err := e.store.Update(ctx, targetID, func(r *knowledge.Record) error {
		if r.Sync.Status != knowledge.StatusSyncing {
			return nil
		}
		now := e.now()
		r.Sync.Status = knowledge.StatusCancelled
		r.Sync.FinishedAt = &now
		return nil
	})
	return err
}

// Status returns the externally visible job state for the target.
func (e *Engine) Status(ctx context.Context, targetID string) (knowledge.JobState, error) {
	record, err := e.store.Get(ctx, targetID)
	if err != nil {
		return knowledge.JobState{}, err
	}
	return record.Sync.JobState(), nil
}

// Close stops accepting work and waits for in-flight runs to finish.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// gate performs the single-flight transition into Syncing. The conditional
// write happens inside the store's update exclusion, so two racing starts
// cannot both pass.
func (e *Engine) gate(ctx context.Context, targetID string, sources []knowledge.SyncSource) (knowledge.Record, error) {
	if targetID == "" {
		return knowledge.Record{}, knowledge.ErrInvalidInput
	}
	// A request without sources can only mean an existing target; creating
	// one here would feed a phantom empty record to the scheduler forever.
	if sources == nil {
		if _, err := e.store.Get(ctx, targetID); err != nil {
			return knowledge.Record{}, err
		}
	}
	return e.store.Update(ctx, targetID, func(r *knowledge.Record) error {
		if !knowledge.CanTransition(r.Sync.Status, knowledge.StatusSyncing) {
			return ErrAlreadySyncing
		}
		if sources != nil {
			r.Sync.Sources = mergeSources(r.Sync.Sources, sources)
		}
		now := e.now()
		r.Sync.Status = knowledge.StatusSyncing
		r.Sync.StartedAt = &now
		r.Sync.FinishedAt = nil
		r.Sync.Error = ""
		r.Sync.ProgressCurrent = 0
		r.Sync.ProgressTotal = 0
		return nil
	})
}

// mergeSources replaces the source set while carrying over the sync position
// of sources that survive the replacement.
func mergeSources(existing, requested []knowledge.SyncSource) []knowledge.SyncSource {
	byID := make(map[string]knowledge.SyncSource, len(existing))
	for _, src := range existing {
		byID[src.ExternalID] = src
	}
	out := make([]knowledge.SyncSource, 0, len(requested))
	for _, src := range requested {
		if prior, ok := byID[src.ExternalID]; ok {
			src.Cursor = prior.Cursor
			src.FolderMap = prior.FolderMap
			src.FileHashes = prior.FileHashes
			if src.ContentHash == "" {
				src.ContentHash = prior.ContentHash
			}
		}
		if src.Kind == "" {
			src.Kind = knowledge.SourceFolder
		}
		out = append(out, src)
	}
	return out
}

type job struct {
	engine   *Engine
	runID    string
	targetID string
	tokens   drivefeed.TokenSource

	mu              sync.Mutex
	report          knowledge.Report
	progressCurrent int
	progressTotal   int

	cancelled atomic.Bool
}

func (e *Engine) run(ctx context.Context, targetID string, record knowledge.Record) {
	j := &job{
		engine:   e,
		runID:    uuid.NewString(),
		targetID: targetID,
		tokens:   e.tokenSource(targetID),
	}
	e.logger.Printf("target %s: run %s started with %d sources", targetID, j.runID, len(record.Sync.Sources))
	status, errMsg, dropped := j.execute(ctx, record)
	j.finalize(ctx, status, errMsg, dropped)
}

func (j *job) execute(ctx context.Context, record knowledge.Record) (knowledge.Status, string, map[string]bool) {
	e := j.engine
	dropped := map[string]bool{}
	sources := make([]knowledge.SyncSource, len(record.Sync.Sources))
	copy(sources, record.Sync.Sources)

	for i := range sources {
		src := &sources[i]
		if j.checkCancelled(ctx) {
			return knowledge.StatusCancelled, "", dropped
		}

		// Probe the source itself before touching the feed: a folder deleted
		// or unshared upstream is dropped, not retried forever.
		item, err := e.feed.Item(ctx, j.tokens, src.DriveID, src.ExternalID)
		if drivefeed.IsGone(err) || (err == nil && item.Deleted) {
			j.dropSource(ctx, src)
			dropped[src.ExternalID] = true
			continue
		}
		if errors.Is(err, token.ErrReauthRequired) {
			return knowledge.StatusAccessRevoked, "drive authorization was revoked", dropped
		}
		if err != nil {
			return knowledge.StatusFailed, fmt.Sprintf("probe source %s: %v", src.ExternalID, err), dropped
		}

		if src.Kind == knowledge.SourceFile {
			err = j.syncFile(ctx, src, item)
		} else {
			err = j.syncFolder(ctx, src)
		}
		switch {
		case err == nil:
		case errors.Is(err, token.ErrReauthRequired):
			return knowledge.StatusAccessRevoked, "drive authorization was revoked", dropped
		case errors.Is(err, ErrFileLimitExceeded):
			return knowledge.StatusFileLimitExceeded,
				fmt.Sprintf("change feed announced more than %d files", e.maxItems), dropped
		default:
			return knowledge.StatusFailed, fmt.Sprintf("sync source %s: %v", src.ExternalID, err), dropped
		}
		if j.cancelled.Load() {
			return knowledge.StatusCancelled, "", dropped
		}
	}

	j.applyPermissions(ctx, sources, dropped)

	j.mu.Lock()
	failed := j.report.FilesFailed
	j.mu.Unlock()
	if failed > 0 {
		return knowledge.StatusCompletedWithErrors, "", dropped
	}
	return knowledge.StatusCompleted, "", dropped
}

func (j *job) syncFolder(ctx context.Context, src *knowledge.SyncSource) error {
	e := j.engine
	batch, err := e.feed.Changes(ctx, j.tokens, src.DriveID, src.ExternalID, src.Cursor)
	if err != nil {
		return err
	}

	resolver := newResolverFor(src, batch.Reset)
	resolver.Apply(batch.Items)

	var toProcess, toDelete []drivefeed.Item
	seen := map[string]bool{}
	for _, item := range batch.Items {
		if item.Folder || item.ID == src.ExternalID {
			continue
		}
		if item.Deleted {
			toDelete = append(toDelete, item)
			continue
		}
		seen[item.ID] = true
		toProcess = append(toProcess, item)
	}

	j.mu.Lock()
	j.report.TotalFound += len(toProcess)
	totalFound := j.report.TotalFound
	j.mu.Unlock()
	if e.maxItems > 0 && totalFound > e.maxItems {
		// Cursor is deliberately not advanced: the run halts before any of
		// this batch is committed.
		return ErrFileLimitExceeded
	}
	j.addProgressTotal(ctx, len(toProcess))

	hashes := make(map[string]string, len(src.FileHashes))
	for id, hash := range src.FileHashes {
		hashes[id] = hash
	}
	var hashesMu sync.Mutex

	sem := semaphore.NewWeighted(e.maxWorkers)
	var wg sync.WaitGroup
	for _, item := range toProcess {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		// Re-check after acquiring the slot: a task queued behind a full
		// pool must not begin work the cancel predates.
		if j.checkCancelled(ctx) {
			sem.Release(1)
			break
		}
		wg.Add(1)
		go func(item drivefeed.Item) {
			defer wg.Done()
			defer sem.Release(1)
			j.processFile(ctx, src, item, resolver, hashes, &hashesMu)
		}(item)
	}
	wg.Wait()

	if !j.cancelled.Load() {
		for _, item := range toDelete {
			hashesMu.Lock()
			_, known := hashes[item.ID]
			hashesMu.Unlock()
			if !known {
				continue
			}
			if err := e.pipeline.Remove(ctx, j.targetID, item.ID); err != nil {
				e.logger.Printf("target %s: remove %s: %v", j.targetID, item.ID, err)
				continue
			}
			hashesMu.Lock()
			delete(hashes, item.ID)
			hashesMu.Unlock()
			j.mu.Lock()
			j.report.DeletedCount++
			j.mu.Unlock()
		}
		if batch.Reset {
			// A full re-enumeration announces everything alive; anything we
			// still hold that went unannounced is gone upstream.
			j.removeUnseen(ctx, hashes, &hashesMu, seen)
		}
	}

	if j.cancelled.Load() {
		// Keep the fingerprints of files already committed before the cancel
		// took effect, but do not advance the cursor past work this run did
		// not finish.
		j.commitSource(ctx, src.ExternalID, func(stored *knowledge.SyncSource) {
			stored.FileHashes = hashes
		})
		return nil
	}
	j.commitSource(ctx, src.ExternalID, func(stored *knowledge.SyncSource) {
		stored.Cursor = batch.Cursor
		stored.FolderMap = resolver.Snapshot()
		stored.FileHashes = hashes
	})
	return nil
}

func (j *job) removeUnseen(ctx context.Context, hashes map[string]string, hashesMu *sync.Mutex, seen map[string]bool) {
	hashesMu.Lock()
	var stale []string
	for id := range hashes {
		if !seen[id] {
			stale = append(stale, id)
		}
	}
	hashesMu.Unlock()
	for _, id := range stale {
		if err := j.engine.pipeline.Remove(ctx, j.targetID, id); err != nil {
			j.engine.logger.Printf("target %s: remove %s: %v", j.targetID, id, err)
			continue
		}
		hashesMu.Lock()
		delete(hashes, id)
		hashesMu.Unlock()
		j.mu.Lock()
		j.report.DeletedCount++
		j.mu.Unlock()
	}
}

func (j *job) processFile(ctx context.Context, src *knowledge.SyncSource, item drivefeed.Item, resolver *foldertree.Resolver, hashes map[string]string, hashesMu *sync.Mutex) {
	e := j.engine
	path := resolver.FilePath(item)
	hashesMu.Lock()
	prior := hashes[item.ID]
	hashesMu.Unlock()
	if item.Hash != "" && item.Hash == prior {
		j.advanceProgress(ctx)
		return
	}

	driveID := item.DriveID
	if driveID == "" {
		driveID = src.DriveID
	}
	content, err := e.feed.Download(ctx, j.tokens, driveID, item.ID)
	if err != nil {
		j.recordFailure(path, "download_error", err)
		j.advanceProgress(ctx)
		return
	}
	fingerprint := item.Hash
	if fingerprint == "" {
		// Feed supplied no hash: fingerprint the bytes themselves so the
		// next run can skip this item instead of re-submitting it forever.
		fingerprint = contentDigest(content)
		if fingerprint == prior {
			j.advanceProgress(ctx)
			return
		}
	}
	if err := e.pipeline.Submit(ctx, j.targetID, item.ID, path, content); err != nil {
		j.recordFailure(path, "ingestion_error", err)
		j.advanceProgress(ctx)
		return
	}

	hashesMu.Lock()
	hashes[item.ID] = fingerprint
	hashesMu.Unlock()
	j.mu.Lock()
	j.report.FilesProcessed++
	j.mu.Unlock()
	j.advanceProgress(ctx)
}

func (j *job) syncFile(ctx context.Context, src *knowledge.SyncSource, item drivefeed.Item) error {
	e := j.engine
	j.mu.Lock()
	j.report.TotalFound++
	j.mu.Unlock()

	if item.Hash != "" && item.Hash == src.ContentHash {
		return nil
	}
	j.addProgressTotal(ctx, 1)

	path := src.RootRelativePath
	if path == "" {
		path = item.Name
	}
	driveID := item.DriveID
	if driveID == "" {
		driveID = src.DriveID
	}
	content, err := e.feed.Download(ctx, j.tokens, driveID, item.ID)
	if err != nil {
		j.recordFailure(path, "download_error", err)
		j.advanceProgress(ctx)
		return nil
	}
	fingerprint := item.Hash
	if fingerprint == "" {
		fingerprint = contentDigest(content)
		if fingerprint == src.ContentHash {
			j.advanceProgress(ctx)
			return nil
		}
	}
	if err := e.pipeline.Submit(ctx, j.targetID, item.ID, path, content); err != nil {
		j.recordFailure(path, "ingestion_error", err)
		j.advanceProgress(ctx)
		return nil
	}

	j.mu.Lock()
	j.report.FilesProcessed++
	j.mu.Unlock()
	j.advanceProgress(ctx)
	j.commitSource(ctx, src.ExternalID, func(stored *knowledge.SyncSource) {
		stored.ContentHash = fingerprint
	})
	return nil
}

// contentDigest fingerprints downloaded bytes for items the feed announces
// without a hash.
func contentDigest(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// dropSource removes everything a vanished source had ingested.
func (j *job) dropSource(ctx context.Context, src *knowledge.SyncSource) {
	e := j.engine
	e.logger.Printf("target %s: source %s gone upstream, dropping", j.targetID, src.ExternalID)
	if src.Kind == knowledge.SourceFile {
		if src.ContentHash != "" {
			if err := e.pipeline.Remove(ctx, j.targetID, src.ExternalID); err != nil {
				e.logger.Printf("target %s: remove %s: %v", j.targetID, src.ExternalID, err)
				return
			}
			j.mu.Lock()
			j.report.DeletedCount++
			j.mu.Unlock()
		}
		return
	}
	for fileID := range src.FileHashes {
		if err := e.pipeline.Remove(ctx, j.targetID, fileID); err != nil {
			e.logger.Printf("target %s: remove %s: %v", j.targetID, fileID, err)
			continue
		}
		j.mu.Lock()
		j.report.DeletedCount++
		j.mu.Unlock()
	}
}

// applyPermissions reconciles the live sources' ACLs into the target's
// access-control record. A mapping failure leaves the prior record in place;
// additions are the only thing ever lost to staleness.
func (j *job) applyPermissions(ctx context.Context, sources []knowledge.SyncSource, dropped map[string]bool) {
	e := j.engine
	if e.identities == nil {
		return
	}
	combined := drivefeed.SourceACL{}
	polled := false
	for i := range sources {
		src := &sources[i]
		if dropped[src.ExternalID] {
			continue
		}
		acl, err := e.feed.Permissions(ctx, j.tokens, src.DriveID, src.ExternalID)
		if err != nil {
			e.logger.Printf("target %s: permissions for %s: %v", j.targetID, src.ExternalID, err)
			return
		}
		if combined.OwnerEmail == "" {
			combined.OwnerEmail = acl.OwnerEmail
		}
		combined.Entries = append(combined.Entries, acl.Entries...)
		polled = true
	}
	if !polled {
		return
	}
	_, err := e.store.Update(ctx, j.targetID, func(r *knowledge.Record) error {
		mapped, managed := access.Map(combined, e.identities, r.Sync.OwnerUserID, r.AccessControl, r.Sync.ManagedGroups)
		r.AccessControl = mapped
		r.Sync.ManagedGroups = managed
		return nil
	})
	if err != nil {
		e.logger.Printf("target %s: persist access control: %v", j.targetID, err)
	}
}

func (j *job) finalize(ctx context.Context, final knowledge.Status, errMsg string, dropped map[string]bool) {
	e := j.engine
	now := e.now()
	j.mu.Lock()
	report := j.report
	current, total := j.progressCurrent, j.progressTotal
	j.mu.Unlock()

	record, err := e.store.Update(ctx, j.targetID, func(r *knowledge.Record) error {
		if len(dropped) > 0 {
			kept := r.Sync.Sources[:0]
			for _, src := range r.Sync.Sources {
				if !dropped[src.ExternalID] {
					kept = append(kept, src)
				}
			}
			r.Sync.Sources = kept
		}
		// Re-read-then-write: an out-of-band cancellation that already moved
		// the status to a terminal state is never overwritten.
		if knowledge.CanTransition(r.Sync.Status, final) {
			r.Sync.Status = final
			r.Sync.Error = errMsg
		}
		r.Sync.FinishedAt = &now
		r.Sync.LastResult = &report
		r.Sync.ProgressCurrent = current
		r.Sync.ProgressTotal = total
		if r.Sync.Status == knowledge.StatusCompleted || r.Sync.Status == knowledge.StatusCompletedWithErrors {
			r.Sync.LastSyncedAt = &now
		}
		return nil
	})
	if err != nil {
		e.logger.Printf("target %s: finalize: %v", j.targetID, err)
		return
	}
	e.logger.Printf("target %s: run %s finished with status %s (processed=%d failed=%d deleted=%d)",
		j.targetID, j.runID, record.Sync.Status, report.FilesProcessed, report.FilesFailed, report.DeletedCount)
	e.emit(ProgressEvent{TargetID: j.targetID, Current: current, Total: total, Status: record.Sync.Status})
}

// checkCancelled re-reads the persisted status. Cancellation is level
// triggered: once observed it sticks for the rest of the run.
func (j *job) checkCancelled(ctx context.Context) bool {
	if j.cancelled.Load() {
		return true
	}
	record, err := j.engine.store.Get(ctx, j.targetID)
	if err != nil {
		return false
	}
	if record.Sync.Status == knowledge.StatusCancelled {
		j.cancelled.Store(true)
		return true
	}
	return false
}

func (j *job) recordFailure(name, kind string, err error) {
	j.engine.logger.Printf("target %s: %s %q: %v", j.targetID, kind, name, err)
	j.mu.Lock()
	j.report.FilesFailed++
	j.report.FailedFiles = append(j.report.FailedFiles, knowledge.FailedFile{
		Name:    name,
		Kind:    kind,
		Message: err.Error(),
	})
	j.mu.Unlock()
}

func (j *job) addProgressTotal(ctx context.Context, n int) {
	if n == 0 {
		return
	}
	j.mu.Lock()
	j.progressTotal += n
	current, total := j.progressCurrent, j.progressTotal
	j.mu.Unlock()
	j.writeProgress(ctx, current, total)
}

func (j *job) advanceProgress(ctx context.Context) {
	j.mu.Lock()
	j.progressCurrent++
	current, total := j.progressCurrent, j.progressTotal
	j.mu.Unlock()
	j.writeProgress(ctx, current, total)
}

func (j *job) writeProgress(ctx context.Context, current, total int) {
	_, err := j.engine.store.Update(ctx, j.targetID, func(r *knowledge.Record) error {
		if r.Sync.Status != knowledge.StatusSyncing {
			return errStaleRun
		}
		r.Sync.ProgressCurrent = current
		r.Sync.ProgressTotal = total
		return nil
	})
	if errors.Is(err, errStaleRun) {
		// The run was cancelled or finalized out from under us; the next
		// checkpoint picks it up.
		return
	}
	if err != nil {
		j.engine.logger.Printf("target %s: persist progress: %v", j.targetID, err)
		return
	}
	j.engine.emit(ProgressEvent{TargetID: j.targetID, Current: current, Total: total, Status: knowledge.StatusSyncing})
}

func (e *Engine) emit(event ProgressEvent) {
	if e.onProgress != nil {
		e.onProgress(event)
	}
}

// newResolverFor seeds a resolver from the source's persisted folder map, or
// from scratch when the batch came from a full re-enumeration.
func newResolverFor(src *knowledge.SyncSource, reset bool) *foldertree.Resolver {
	resolver := foldertree.NewResolver(src.ExternalID)
	if !reset {
		resolver.Load(src.FolderMap)
	}
	return resolver
}

func (j *job) commitSource(ctx context.Context, externalID string, apply func(*knowledge.SyncSource)) {
	_, err := j.engine.store.Update(ctx, j.targetID, func(r *knowledge.Record) error {
		if src := r.Sync.SourceByID(externalID); src != nil {
			apply(src)
		}
		return nil
	})
	if err != nil {
		j.engine.logger.Printf("target %s: commit source %s: %v", j.targetID, externalID, err)
	}
}
