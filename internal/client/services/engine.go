package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/bugtracker/internal/client/cache"
	"github.com/dmitrijs2005/bugtracker/internal/client/client"
	"github.com/dmitrijs2005/bugtracker/internal/client/feed"
	"github.com/dmitrijs2005/bugtracker/internal/client/models"
	"github.com/dmitrijs2005/bugtracker/internal/logging"
	"github.com/dmitrijs2005/bugtracker/internal/telemetry"
)

const (
	DefaultDebounce            = time.Second
	DefaultOnlineCheckInterval = 3 * time.Second
	DefaultMaxRetryInterval    = 30 * time.Second

	reconcileKey = "reconcile"
)

var tracer = telemetry.Tracer("engine")

// ResolvePolicy decides who may flip a record's fixed flag.
type ResolvePolicy int

const (
	ResolveAdminOnly ResolvePolicy = iota
	ResolveAnyone
)

// PlatformDetector reports the host platform stamped on new records.
type PlatformDetector interface {
	Detect() (models.Platform, string)
}

// ScreenshotStore moves large screenshots out of the record.
//
// Offload returns the value to store in the record: either data itself or
// a reference. Resolve turns a stored value back into the screenshot.
type ScreenshotStore interface {
	Offload(ctx context.Context, id string, data string) (string, error)
	Resolve(ctx context.Context, ref string) (string, error)
}

type Options struct {
	// Version is stamped on new records.
	Version string
	// Debounce is how long feed notifications are ignored after a local
	// mutation. Negative disables it.
	Debounce time.Duration
	// OnlineCheckInterval is the first retry delay while offline.
	OnlineCheckInterval time.Duration
	MaxRetryInterval    time.Duration
	ResolvePolicy       ResolvePolicy
}

func (o Options) withDefaults() Options {
	if o.Debounce == 0 {
		o.Debounce = DefaultDebounce
	}
	if o.OnlineCheckInterval <= 0 {
		o.OnlineCheckInterval = DefaultOnlineCheckInterval
	}
	if o.MaxRetryInterval < o.OnlineCheckInterval {
		o.MaxRetryInterval = max(DefaultMaxRetryInterval, o.OnlineCheckInterval)
	}
	return o
}

// Deps are the engine's collaborators. Client and Cache are required;
// the rest may be nil.
type Deps struct {
	Client      client.Client
	Cache       cache.Cache
	Feed        feed.Listener
	Identity    IdentityProvider
	Platform    PlatformDetector
	Screenshots ScreenshotStore
	Logger      logging.Logger
}

// SyncEngine owns the authoritative in-memory working set. The remote
// store is the only source of truth: every successful mutation is followed
// by a full reconciliation, and nothing is applied locally on speculation.
type SyncEngine struct {
	client   client.Client
	cache    cache.Cache
	feed     feed.Listener
	identity IdentityProvider
	platform PlatformDetector
	shots    ScreenshotStore
	logger   logging.Logger
	opts     Options
	now      func() time.Time

	mu            sync.RWMutex
	records       []models.BugRecord
	status        Status
	lastMutation  time.Time
	hostOffline   bool
	monitorCancel context.CancelFunc
	monitorGen    int
	closed        bool
	subs          map[int]func(Snapshot)
	nextSub       int

	feedMu sync.Mutex
	feedOn bool

	reconcileMu sync.Mutex
	group       singleflight.Group
	locks       *keyedMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSyncEngine(deps Deps, opts Options) *SyncEngine {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &SyncEngine{
		client:   deps.Client,
		cache:    deps.Cache,
		feed:     deps.Feed,
		identity: deps.Identity,
		platform: deps.Platform,
		shots:    deps.Screenshots,
		logger:   logger.With("module", "engine"),
		opts:     opts.withDefaults(),
		now:      time.Now,
		records:  []models.BugRecord{},
		status:   Status{State: StateUninitialized, Configured: true},
		subs:     make(map[int]func(Snapshot)),
		locks:    newKeyedMutex(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start paints the cached snapshot, then reads the remote store. A failed
// read leaves the cached set in place, marks the engine offline and hands
// over to the connectivity monitor. Start itself only fails when called
// twice.
func (e *SyncEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status.State != StateUninitialized || e.closed {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.status.State = StateLoading
	e.mu.Unlock()
	e.publish()

	cached := models.SortAndDedupe(e.cache.Load(ctx))
	e.mu.Lock()
	e.records = cached
	e.status.FromCache = true
	e.mu.Unlock()
	e.publish()
	e.logger.Info(ctx, "cache loaded", "records", len(cached))

	err := e.reconcileFresh(ctx)

	e.mu.Lock()
	e.status.State = StateReady
	switch {
	case err == nil:
		e.status.Online = !e.hostOffline
	case errors.Is(err, client.ErrNotConfigured):
		e.status.Configured = false
		e.status.Online = false
	default:
		e.status.Online = false
	}
	online := e.status.Online
	e.mu.Unlock()

	// SetOnline may have started the feed while loading
	if !online {
		e.stopFeed()
	}

	switch {
	case err == nil:
		if online {
			e.startFeed()
		}
	case errors.Is(err, client.ErrNotConfigured):
		e.logger.Warn(ctx, "remote store not configured, staying on cache")
	default:
		e.logger.Warn(ctx, "initial sync failed, staying on cache", "error", err)
		e.startMonitor()
	}
	e.publish()
	return nil
}

// Add creates a record remotely and returns it as the store now has it.
func (e *SyncEngine) Add(ctx context.Context, d models.Draft) (models.BugRecord, error) {
	ctx, span := tracer.Start(ctx, "engine.Add")
	defer span.End()

	if err := d.Validate(); err != nil {
		return models.BugRecord{}, err
	}
	if err := e.requireOnline(); err != nil {
		return models.BugRecord{}, err
	}

	e.markMutation()
	ident := e.currentIdentity(ctx)

	rec := models.BugRecord{
		ID:          uuid.NewString(),
		Title:       d.Title,
		Description: d.Description,
		Category:    d.Category,
		Priority:    d.Priority,
		CreatedAt:   e.stamp(),
		Screenshot:  d.Screenshot,
		Platform:    d.Platform,
		DeviceInfo:  d.DeviceInfo,
		Version:     e.opts.Version,
		CreatedBy:   ident.DisplayName,
	}
	if rec.Platform == "" && rec.DeviceInfo == "" && e.platform != nil {
		rec.Platform, rec.DeviceInfo = e.platform.Detect()
	}
	span.SetAttributes(attribute.String("bug.id", rec.ID))

	if rec.Screenshot != "" && e.shots != nil {
		ref, err := e.shots.Offload(ctx, rec.ID, rec.Screenshot)
		if err != nil {
			return models.BugRecord{}, fmt.Errorf("offload screenshot: %w", err)
		}
		rec.Screenshot = ref
	}

	created, err := e.client.Insert(ctx, rec)
	e.markMutation()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.BugRecord{}, e.mutationFailed(ctx, "add", err)
	}
	e.logger.Info(ctx, "bug added", "id", created.ID)

	e.afterMutation(ctx)
	if r, ok := e.Get(created.ID); ok {
		return r, nil
	}
	return created, nil
}

// Update applies patch to the record with the given id. Mutations of the
// same record are serialized from lookup to reconciliation.
func (e *SyncEngine) Update(ctx context.Context, id string, patch models.Patch) (models.BugRecord, error) {
	ctx, span := tracer.Start(ctx, "engine.Update", withID(id))
	defer span.End()

	unlock := e.locks.Lock(id)
	defer unlock()

	cur, ok := e.Get(id)
	if !ok {
		return models.BugRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := patch.Validate(); err != nil {
		return models.BugRecord{}, err
	}

	ident := e.currentIdentity(ctx)
	if patch.TogglesFixed(cur) && e.opts.ResolvePolicy == ResolveAdminOnly && ident.Role != RoleAdmin {
		return models.BugRecord{}, ErrForbidden
	}
	if err := e.requireOnline(); err != nil {
		return models.BugRecord{}, err
	}
	if patch.Empty() {
		return cur, nil
	}

	e.markMutation()
	next := cur.Apply(patch, ident.DisplayName, e.stamp())

	if patch.Screenshot != nil && next.Screenshot != "" && e.shots != nil {
		ref, err := e.shots.Offload(ctx, id, next.Screenshot)
		if err != nil {
			return models.BugRecord{}, fmt.Errorf("offload screenshot: %w", err)
		}
		next.Screenshot = ref
	}

	updated, err := e.client.Update(ctx, next)
	e.markMutation()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, client.ErrNotFound) {
			// removed remotely since our last read
			e.spawn(e.backgroundReconcile)
		}
		return models.BugRecord{}, e.mutationFailed(ctx, "update", err)
	}
	e.logger.Info(ctx, "bug updated", "id", id)

	e.afterMutation(ctx)
	if r, ok := e.Get(id); ok {
		return r, nil
	}
	return updated, nil
}

// Delete removes the record with the given id. Unlike the remote client,
// the engine reports ErrNotFound for ids it does not hold.
func (e *SyncEngine) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "engine.Delete", withID(id))
	defer span.End()

	unlock := e.locks.Lock(id)
	defer unlock()

	if _, ok := e.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := e.requireOnline(); err != nil {
		return err
	}

	e.markMutation()
	err := e.client.Delete(ctx, id)
	e.markMutation()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return e.mutationFailed(ctx, "delete", err)
	}
	e.logger.Info(ctx, "bug deleted", "id", id)

	e.afterMutation(ctx)
	return nil
}

// Refresh forces a reconciliation and reports its outcome.
func (e *SyncEngine) Refresh(ctx context.Context) error {
	if !e.Status().Configured {
		return client.ErrNotConfigured
	}

	err := e.reconcileFresh(ctx)
	if err != nil {
		e.backgroundFailed(ctx, err)
		return err
	}

	e.mu.Lock()
	resume := !e.status.Online && !e.hostOffline && !e.closed
	if resume {
		e.status.Online = true
		e.status.LastError = ""
	}
	e.mu.Unlock()
	if resume {
		e.startFeed()
		e.publish()
	}
	return nil
}

// SetOnline feeds the host connectivity signal into the engine. Going
// offline stops the change feed and any retries; coming back restarts the
// feed and reconciles in the background.
func (e *SyncEngine) SetOnline(online bool) {
	e.mu.Lock()
	e.hostOffline = !online
	if e.closed || e.status.State == StateUninitialized {
		e.mu.Unlock()
		return
	}

	if !online {
		e.status.Online = false
		cancel := e.monitorCancel
		e.monitorCancel = nil
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		e.stopFeed()
		e.publish()
		return
	}

	if !e.status.Configured || e.status.Online {
		e.mu.Unlock()
		return
	}
	e.status.Online = true
	e.mu.Unlock()

	e.startFeed()
	e.publish()
	e.spawn(e.backgroundReconcile)
}

// Get returns the record with the given id from the working set.
func (e *SyncEngine) Get(id string) (models.BugRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return models.Find(e.records, id)
}

// Records returns a copy of the working set, optionally narrowed to one
// category.
func (e *SyncEngine) Records(c models.Category) []models.BugRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return models.FilterByCategory(e.records, c)
}

func (e *SyncEngine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status.clone()
}

func (e *SyncEngine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

// Subscribe registers fn for every published snapshot and returns a func
// that removes it. fn runs on the publishing goroutine and must not call
// back into mutations.
func (e *SyncEngine) Subscribe(fn func(Snapshot)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

// Screenshot returns the full screenshot of a record, resolving offloaded
// references.
func (e *SyncEngine) Screenshot(ctx context.Context, id string) (string, error) {
	r, ok := e.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Screenshot == "" || e.shots == nil {
		return r.Screenshot, nil
	}
	return e.shots.Resolve(ctx, r.Screenshot)
}

// Close stops the feed and all background work and waits for it.
func (e *SyncEngine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.stopFeed()
	e.wg.Wait()
}

func (e *SyncEngine) snapshotLocked() Snapshot {
	recs := make([]models.BugRecord, len(e.records))
	copy(recs, e.records)
	return Snapshot{
		Records: recs,
		Stats:   models.ComputeStats(recs),
		Status:  e.status.clone(),
	}
}

func (e *SyncEngine) publish() {
	e.mu.RLock()
	if len(e.subs) == 0 {
		e.mu.RUnlock()
		return
	}
	snap := e.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// reconcile replaces the working set with the remote one and persists it.
// It never touches the online flag.
func (e *SyncEngine) reconcile(ctx context.Context) error {
	e.reconcileMu.Lock()
	defer e.reconcileMu.Unlock()

	ctx, span := tracer.Start(ctx, "engine.reconcile")
	defer span.End()

	e.mu.Lock()
	e.status.Syncing = true
	e.mu.Unlock()
	e.publish()

	recs, err := e.client.List(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.mu.Lock()
		e.status.Syncing = false
		e.status.LastError = err.Error()
		e.mu.Unlock()
		e.publish()
		return err
	}

	recs = models.SortAndDedupe(recs)
	now := e.now().UTC()
	span.SetAttributes(attribute.Int("bug.count", len(recs)))

	e.mu.Lock()
	e.records = recs
	e.status.State = StateReady
	e.status.Syncing = false
	e.status.LastSync = &now
	e.status.FromCache = false
	e.status.Configured = true
	e.status.LastError = ""
	e.mu.Unlock()

	if err := e.cache.Save(ctx, recs); err != nil {
		e.logger.Warn(ctx, "cache save failed", "error", err)
	}
	e.logger.Debug(ctx, "reconciled", "records", len(recs))
	e.publish()
	return nil
}

// reconcileFresh runs a reconciliation that starts after the call, so it
// observes every write made before it.
func (e *SyncEngine) reconcileFresh(ctx context.Context) error {
	e.group.Forget(reconcileKey)
	_, err, _ := e.group.Do(reconcileKey, func() (any, error) {
		return nil, e.reconcile(ctx)
	})
	return err
}

// backgroundReconcile joins any reconciliation already in flight.
func (e *SyncEngine) backgroundReconcile() {
	_, err, shared := e.group.Do(reconcileKey, func() (any, error) {
		return nil, e.reconcile(e.ctx)
	})
	if shared {
		e.logger.Debug(e.ctx, "reconciliation coalesced")
	}
	if err != nil {
		e.backgroundFailed(e.ctx, err)
	}
}

func (e *SyncEngine) afterMutation(ctx context.Context) {
	if err := e.reconcileFresh(ctx); err != nil {
		e.logger.Warn(ctx, "post-mutation reconcile failed", "error", err)
		e.backgroundFailed(ctx, err)
	}
}

// backgroundFailed turns a failed read into offline status and retries.
func (e *SyncEngine) backgroundFailed(ctx context.Context, err error) {
	if ctx.Err() != nil || e.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}

	if errors.Is(err, client.ErrNotConfigured) {
		e.mu.Lock()
		e.status.Configured = false
		e.status.Online = false
		e.mu.Unlock()
		e.stopFeed()
		e.publish()
		return
	}

	e.goOffline(ctx, err)
}

func (e *SyncEngine) goOffline(ctx context.Context, err error) {
	e.mu.Lock()
	wasOnline := e.status.Online
	e.status.Online = false
	e.status.LastError = err.Error()
	e.mu.Unlock()

	if wasOnline {
		e.logger.Warn(ctx, "remote store unavailable, going offline", "error", err)
	}
	e.stopFeed()
	e.publish()
	e.startMonitor()
}

func (e *SyncEngine) mutationFailed(ctx context.Context, op string, err error) error {
	e.logger.Warn(ctx, "mutation failed", "op", op, "error", err)
	if errors.Is(err, client.ErrUnreachable) {
		e.goOffline(ctx, err)
	}
	return err
}

func (e *SyncEngine) onChange() {
	if e.withinDebounce() {
		e.logger.Debug(e.ctx, "change ignored inside debounce window")
		return
	}
	e.spawn(e.backgroundReconcile)
}

func (e *SyncEngine) withinDebounce() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.lastMutation.IsZero() && e.now().Sub(e.lastMutation) < e.opts.Debounce
}

func (e *SyncEngine) markMutation() {
	e.mu.Lock()
	e.lastMutation = e.now()
	e.mu.Unlock()
}

func (e *SyncEngine) requireOnline() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.status.Configured {
		return client.ErrNotConfigured
	}
	if !e.status.Online {
		return ErrNoConnection
	}
	return nil
}

func (e *SyncEngine) currentIdentity(ctx context.Context) Identity {
	if e.identity == nil {
		return Anonymous
	}
	return e.identity.Current(ctx)
}

func (e *SyncEngine) stamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// spawn runs fn on a tracked goroutine unless the engine is closed.
func (e *SyncEngine) spawn(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *SyncEngine) startFeed() {
	if e.feed == nil {
		return
	}
	e.feedMu.Lock()
	defer e.feedMu.Unlock()
	if e.feedOn || e.ctx.Err() != nil {
		return
	}
	if err := e.feed.Start(e.ctx, e.onChange); err != nil && !errors.Is(err, feed.ErrAlreadyRunning) {
		e.logger.Warn(e.ctx, "change feed failed to start", "error", err)
		return
	}
	e.feedOn = true
}

func (e *SyncEngine) stopFeed() {
	if e.feed == nil {
		return
	}
	e.feedMu.Lock()
	defer e.feedMu.Unlock()
	if !e.feedOn {
		return
	}
	e.feed.Stop()
	e.feedOn = false
}

func withID(id string) trace.SpanStartEventOption {
	return trace.WithAttributes(attribute.String("bug.id", id))
}
