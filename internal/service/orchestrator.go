package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"wholecell-mirror-api/internal/model"
	"wholecell-mirror-api/internal/store"
	"wholecell-mirror-api/internal/wholecell"

	"golang.org/x/sync/singleflight"
)

// Fetcher is the upstream page source. *wholecell.Client satisfies it;
// tests substitute stubs.
type Fetcher interface {
	FetchAll(ctx context.Context, opts wholecell.FetchOptions) (*wholecell.FetchResult, error)
}

// OrchestratorConfig holds orchestrator tuning.
type OrchestratorConfig struct {
	// IncrementalPages is the front-window size an incremental check
	// re-scans. Recent mutations are assumed to surface near the front
	// of the listing; tune per deployment.
	IncrementalPages int

	// IncrementalTimeout bounds one background incremental cycle.
	IncrementalTimeout time.Duration

	// OnProgress is invoked after every fetched page of a sync cycle.
	OnProgress func(stage string, current, total int)

	// OnChangeDetected is invoked when a cycle finds changes.
	OnChangeDetected func(*model.ChangeSet)
}

// Orchestrator is the sync state machine. It decides per load whether
// to bootstrap (full sync), serve from cache, or serve from cache and
// reconcile in the background, and it is the only writer of items and
// fingerprints. At most one sync cycle is in flight at a time.
type Orchestrator struct {
	store   store.Store
	fetcher Fetcher
	cfg     OrchestratorConfig

	// bootstrapGroup coalesces concurrent full syncs: two Loads racing
	// on an empty store produce exactly one page-fetch sequence.
	bootstrapGroup singleflight.Group

	// cycleMu serializes sync cycles (full or incremental).
	cycleMu sync.Mutex

	mu          sync.Mutex // guards phase, progress, lastChanges
	phase       model.SyncPhase
	progress    model.SyncProgress
	lastChanges *model.ChangeSet
}

// NewOrchestrator creates a sync orchestrator.
// Returns nil if store or fetcher is nil (required dependencies).
func NewOrchestrator(st store.Store, fetcher Fetcher, cfg OrchestratorConfig) *Orchestrator {
	if st == nil || fetcher == nil {
		return nil
	}
	if cfg.IncrementalPages <= 0 {
		cfg.IncrementalPages = 10
	}
	if cfg.IncrementalTimeout <= 0 {
		cfg.IncrementalTimeout = 5 * time.Minute
	}
	return &Orchestrator{
		store:   st,
		fetcher: fetcher,
		cfg:     cfg,
		phase:   model.PhaseEmpty,
	}
}

// Load is the single dashboard entry point. With no sync metadata it
// bootstraps a full sync and returns the complete dataset; otherwise
// it returns the cached dataset immediately and reconciles a bounded
// page window in the background. It only fails before the first
// successful full sync — after that the caller always gets the
// best-available data.
func (o *Orchestrator) Load(ctx context.Context) ([]model.InventoryItem, error) {
	meta, err := o.store.GetMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	if meta == nil {
		return o.bootstrap()
	}

	items, err := o.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}

	o.kickIncremental()
	return items, nil
}

// bootstrap runs the initial full sync, coalescing concurrent callers
// onto a single fetch sequence.
func (o *Orchestrator) bootstrap() ([]model.InventoryItem, error) {
	v, err, _ := o.bootstrapGroup.Do("full-sync", func() (interface{}, error) {
		// Detached context: a started bootstrap runs to completion
		// regardless of which coalesced caller goes away.
		return o.fullSync(context.Background(), nil, false, false)
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.InventoryItem), nil
}

// ForceFullSync refetches everything and replaces the store contents
// with the fresh dataset. The only operation that can detect removed
// items: the resulting ChangeSet is a diff of the previous snapshot
// against the fresh dataset. On failure the previous mirror is left
// intact.
func (o *Orchestrator) ForceFullSync(ctx context.Context) ([]model.InventoryItem, error) {
	prev, err := o.store.GetAll(ctx)
	if err != nil {
		log.Printf("[SyncOrchestrator] Could not snapshot previous items before resync: %v", err)
		prev = nil
	}

	v, err, _ := o.bootstrapGroup.Do("full-sync", func() (interface{}, error) {
		return o.fullSync(context.Background(), prev, true, true)
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.InventoryItem), nil
}

// fullSync fetches every page, stores items and fingerprints, and
// writes metadata with syncType=full. When diffPrev is set the fresh
// dataset is diffed against prev and the ChangeSet published;
// clearFirst wipes the store under the cycle lock before merging.
//
// A full sync must be complete to be authoritative: a page that still
// fails after retries fails the whole cycle before anything is
// cleared or written. Otherwise items on the failed page would vanish
// from the mirror and a resync diff would misreport them as removed.
func (o *Orchestrator) fullSync(ctx context.Context, prev []model.InventoryItem, diffPrev, clearFirst bool) ([]model.InventoryItem, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	defer o.resolvePhase()

	o.setPhase(model.PhaseFullSync)
	start := time.Now()

	res, err := o.fetcher.FetchAll(ctx, wholecell.FetchOptions{
		OnProgress: o.reportProgress("full_sync"),
	})
	if err != nil {
		return nil, fmt.Errorf("full sync: %w", err)
	}
	if len(res.FailedPages) > 0 {
		return nil, fmt.Errorf("full sync: %d of %d pages failed after retries (first: page %d): %w",
			len(res.FailedPages), res.TotalPages, res.FailedPages[0], wholecell.ErrServiceUnavailable)
	}

	if clearFirst {
		if err := o.store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear before resync: %w", err)
		}
	}

	now := time.Now().UTC()
	fps := make([]model.Fingerprint, len(res.Items))
	for i, item := range res.Items {
		fps[i] = model.Fingerprint{ESN: item.ESN, Value: Fingerprint(item), ComputedAt: now}
	}

	o.setPhase(model.PhaseMerging)
	if err := o.store.ApplyBatch(ctx, res.Items, fps); err != nil {
		return nil, fmt.Errorf("full sync: store batch: %w", err)
	}

	meta := &model.SyncMetadata{
		LastFullSyncAt:  now,
		ItemCount:       len(res.Items),
		LastChangeCount: len(res.Items),
		SyncType:        model.SyncTypeFull,
	}
	if diffPrev {
		cs := Diff(prev, res.Items)
		meta.LastChangeCount = cs.Total()
		o.publishChanges(cs)
	}
	if err := o.store.PutMetadata(ctx, meta); err != nil {
		return nil, fmt.Errorf("full sync: store metadata: %w", err)
	}

	log.Printf("[SyncOrchestrator] Full sync complete: %d items, %d/%d pages (%d failed) in %v",
		len(res.Items), res.PagesFetched, res.TotalPages, len(res.FailedPages), time.Since(start).Round(time.Millisecond))
	return res.Items, nil
}

// kickIncremental starts a background incremental check unless a
// cycle is already in flight.
func (o *Orchestrator) kickIncremental() {
	if !o.cycleMu.TryLock() {
		return
	}

	go func() {
		defer o.cycleMu.Unlock()
		defer o.resolvePhase()

		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.IncrementalTimeout)
		defer cancel()

		if err := o.incrementalCheck(ctx); err != nil {
			// Non-fatal: the caller already has usable cached data.
			log.Printf("[SyncOrchestrator] Incremental check failed, serving cached data: %v", err)
		}
	}()
}

// RunIncremental performs one synchronous incremental cycle, waiting
// for any in-flight cycle first. Exposed for maintenance endpoints.
func (o *Orchestrator) RunIncremental(ctx context.Context) error {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	defer o.resolvePhase()

	return o.incrementalCheck(ctx)
}

// incrementalCheck re-scans the front page window, classifies fetched
// items against stored fingerprints, and merges new + modified
// records. Absence from the scanned window is never treated as
// removal: the window is partial, so absence is not evidence of
// deletion. On any error the cycle aborts with stored data and
// metadata untouched.
func (o *Orchestrator) incrementalCheck(ctx context.Context) error {
	o.setPhase(model.PhaseIncrementalCheck)

	res, err := o.fetcher.FetchAll(ctx, wholecell.FetchOptions{
		MaxPages:   o.cfg.IncrementalPages,
		OnProgress: o.reportProgress("incremental"),
	})
	if err != nil {
		return fmt.Errorf("incremental fetch: %w", err)
	}

	stored, err := o.store.GetFingerprints(ctx)
	if err != nil {
		return fmt.Errorf("incremental: load fingerprints: %w", err)
	}

	now := time.Now().UTC()
	cs := &model.ChangeSet{CheckedAt: now}
	var toWrite []model.InventoryItem
	var fps []model.Fingerprint

	for _, item := range res.Items {
		fp := Fingerprint(item)
		old, known := stored[item.ESN]

		switch {
		case !known || old == "":
			cs.New = append(cs.New, item)
		case old != fp:
			change := model.ItemChange{ESN: item.ESN, Item: item}
			if prevItem, err := o.store.GetItem(ctx, item.ESN); err == nil && prevItem != nil {
				change.Deltas = TrackedDeltas(*prevItem, item)
				if prevItem.Status != item.Status {
					cs.StatusChanged = append(cs.StatusChanged, change)
				}
			}
			cs.Modified = append(cs.Modified, change)
		default:
			continue
		}

		toWrite = append(toWrite, item)
		fps = append(fps, model.Fingerprint{ESN: item.ESN, Value: fp, ComputedAt: now})
	}

	o.setPhase(model.PhaseMerging)
	if err := o.store.ApplyBatch(ctx, toWrite, fps); err != nil {
		return fmt.Errorf("incremental: store batch: %w", err)
	}

	meta, err := o.store.GetMetadata(ctx)
	if err != nil {
		return fmt.Errorf("incremental: reload metadata: %w", err)
	}
	if meta == nil {
		return errors.New("incremental: metadata missing, store was cleared mid-cycle")
	}
	meta.LastIncrementalSyncAt = now
	meta.LastChangeCount = cs.Total()
	meta.SyncType = model.SyncTypeIncremental
	if count, err := o.store.Count(ctx); err == nil {
		meta.ItemCount = count
	}
	if err := o.store.PutMetadata(ctx, meta); err != nil {
		return fmt.Errorf("incremental: store metadata: %w", err)
	}

	o.publishChanges(cs)

	log.Printf("[SyncOrchestrator] Incremental check: scanned %d items over %d pages, %d new, %d modified",
		len(res.Items), res.PagesFetched, len(cs.New), len(cs.Modified))
	return nil
}

// ClearCache wipes the store. Load after this performs a fresh full
// sync. Waits for any in-flight cycle.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	if err := o.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	o.mu.Lock()
	o.phase = model.PhaseEmpty
	o.progress = model.SyncProgress{}
	o.lastChanges = nil
	o.mu.Unlock()

	log.Printf("[SyncOrchestrator] Cache cleared")
	return nil
}

// Stats returns the current sync metadata, or nil before the first
// full sync.
func (o *Orchestrator) Stats(ctx context.Context) (*model.SyncMetadata, error) {
	return o.store.GetMetadata(ctx)
}

// Phase returns the orchestrator's current state-machine phase.
func (o *Orchestrator) Phase() model.SyncPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Progress returns the latest page-fetch progress.
func (o *Orchestrator) Progress() model.SyncProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// LastChangeSet returns the most recent cycle's ChangeSet, or nil.
func (o *Orchestrator) LastChangeSet() *model.ChangeSet {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastChanges
}

func (o *Orchestrator) setPhase(p model.SyncPhase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

// resolvePhase settles the phase after a cycle ends, succeeding or
// not: READY when durable data exists, EMPTY otherwise.
func (o *Orchestrator) resolvePhase() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	meta, err := o.store.GetMetadata(ctx)
	if err == nil && meta != nil {
		o.setPhase(model.PhaseReady)
		return
	}
	o.setPhase(model.PhaseEmpty)
}

func (o *Orchestrator) reportProgress(stage string) func(current, total int) {
	return func(current, total int) {
		o.mu.Lock()
		o.progress = model.SyncProgress{Stage: stage, Current: current, Total: total}
		cb := o.cfg.OnProgress
		o.mu.Unlock()

		if cb != nil {
			cb(stage, current, total)
		}
	}
}

func (o *Orchestrator) publishChanges(cs *model.ChangeSet) {
	o.mu.Lock()
	o.lastChanges = cs
	cb := o.cfg.OnChangeDetected
	o.mu.Unlock()

	if cs.HasChanges() && cb != nil {
		cb(cs)
	}
}
