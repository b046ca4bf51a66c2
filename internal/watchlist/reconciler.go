package watchlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// Defaults for ReconcilerConfig zero values.
const (
	defaultWriteTimeout     = 30 * time.Second
	defaultMigrationWorkers = 4
)

// LocalStore is the device-scoped store. Load returns an empty slice (not an
// error) when nothing is stored or the stored payload is unreadable.
// Satisfied by *localstore.Store.
type LocalStore interface {
	Load(ctx context.Context) ([]Entry, error)
	SaveAll(ctx context.Context, entries []Entry) error
	Clear(ctx context.Context) error
}

// RemoteStore is the per-user account store. Load returns entries newest
// first; Upsert overwrites on (userID, ExternalID); Delete of a missing key
// is not an error. Satisfied by *remotestore.REST and *remotestore.Postgres.
type RemoteStore interface {
	Load(ctx context.Context, userID string) ([]Entry, error)
	Upsert(ctx context.Context, userID string, e Entry) error
	Delete(ctx context.Context, userID string, externalID int64) error
}

// ReconcilerConfig holds the collaborators and tunables for NewReconciler.
type ReconcilerConfig struct {
	Local            LocalStore
	Remote           RemoteStore
	Logger           *slog.Logger
	WriteTimeout     time.Duration // per background write; 0 uses the default
	MigrationWorkers int           // concurrent migration upserts; 0 uses the default
}

// pendingOp is a toggle recorded while the snapshot was still loading. add
// is decided against the snapshot the caller saw.
type pendingOp struct {
	entry Entry
	add   bool
}

// transition is the synchronous half of an identity change: the generation
// and owner a load must still match when it completes.
type transition struct {
	gen   uint64
	owner OwnerContext

	// flushSeq and flush are the newest guest snapshot scheduled for the
	// Local Store when a sign-in began. It is written before local entries
	// are read for migration.
	flushSeq uint64
	flush    []Entry
}

// Reconciler is the single owner of the watchlist snapshot. Reads and
// toggles act on memory immediately; persistence runs in detached
// background tasks whose failures are logged and otherwise ignored.
type Reconciler struct {
	local  LocalStore
	remote RemoteStore
	logger *slog.Logger

	writeTimeout     time.Duration
	migrationWorkers int

	mu         sync.Mutex
	owner      OwnerContext
	gen        uint64
	ready      bool
	loadFailed bool
	migrated   int
	entries    []Entry
	pending    []pendingOp
	saveSeq    uint64
	queued     []Entry // snapshot of the newest scheduled local save
	subs       map[int]chan struct{}
	nextSub    int

	// saveMu serializes local full-snapshot writes; savedSeq is the newest
	// sequence number written so far.
	saveMu   sync.Mutex
	savedSeq uint64

	tasks conc.WaitGroup
}

// NewReconciler returns an unresolved Reconciler. Its snapshot stays empty
// until the first OnIdentityChange (or Run notification) completes.
func NewReconciler(cfg *ReconcilerConfig) (*Reconciler, error) {
	if cfg.Local == nil {
		return nil, errors.New("watchlist: local store is required")
	}

	if cfg.Remote == nil {
		return nil, errors.New("watchlist: remote store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reconciler{
		local:            cfg.Local,
		remote:           cfg.Remote,
		logger:           logger,
		writeTimeout:     cfg.WriteTimeout,
		migrationWorkers: cfg.MigrationWorkers,
		subs:             make(map[int]chan struct{}),
	}

	if r.writeTimeout <= 0 {
		r.writeTimeout = defaultWriteTimeout
	}

	if r.migrationWorkers <= 0 {
		r.migrationWorkers = defaultMigrationWorkers
	}

	return r, nil
}

// IsMember reports whether externalID is in the current snapshot.
func (r *Reconciler) IsMember(externalID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return indexOf(r.entries, externalID) >= 0
}

// Snapshot returns a copy of the current ordered watchlist.
func (r *Reconciler) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.entries)
}

// Stats counts the current snapshot by media kind.
func (r *Reconciler) Stats() Stats {
	return CountKinds(r.Snapshot())
}

// Owner returns the owner context most recently applied.
func (r *Reconciler) Owner() OwnerContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.owner
}

// Migrated returns how many local entries the last completed sign-in load
// found missing remotely and scheduled for upload.
func (r *Reconciler) Migrated() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.migrated
}

// Ready reports whether the snapshot reflects a completed load for the
// current owner.
func (r *Reconciler) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.ready
}

// Toggle removes e if its ExternalID is a member, otherwise appends it, and
// reports whether it was added. An entry that fails Validate is never
// added. The snapshot changes before Toggle returns; the matching store
// write is scheduled in the background.
func (r *Reconciler) Toggle(e Entry) bool {
	e.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	op := pendingOp{entry: e, add: indexOf(r.entries, e.ExternalID) < 0}

	if op.add {
		if err := e.Validate(); err != nil {
			r.logger.Warn("rejecting invalid entry",
				slog.Int64("external_id", e.ExternalID),
				slog.String("error", err.Error()),
			)

			return false
		}
	}

	r.applyLocked(op)

	if r.ready {
		r.persistLocked(op)
	} else {
		r.pending = append(r.pending, op)
		r.logger.Debug("snapshot not ready, toggle queued",
			slog.Int64("external_id", e.ExternalID),
			slog.Bool("add", op.add),
		)
	}

	r.notifyLocked()

	return op.add
}

// OnIdentityChange applies a new owner context and waits for the matching
// snapshot load. Repeating the current owner is a no-op unless its last load
// failed. An unresolved context is treated as Guest.
func (r *Reconciler) OnIdentityChange(ctx context.Context, owner OwnerContext) {
	t, ok := r.begin(owner)
	if !ok {
		return
	}

	r.complete(ctx, t)
}

// Run applies owner contexts from owners until ctx is canceled or owners is
// closed. Each notification supersedes any load still in flight.
func (r *Reconciler) Run(ctx context.Context, owners <-chan OwnerContext) error {
	var loads conc.WaitGroup
	defer loads.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil

		case owner, ok := <-owners:
			if !ok {
				return nil
			}

			t, changed := r.begin(owner)
			if !changed {
				continue
			}

			loads.Go(func() { r.complete(ctx, t) })
		}
	}
}

// Subscribe returns a channel that receives a value after every snapshot
// change, coalescing bursts, and a func that unsubscribes.
func (r *Reconciler) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Wait blocks until all background writes scheduled so far have finished or
// ctx is done. Processes call it before exiting so detached writes are not
// lost with the process.
func (r *Reconciler) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		defer close(done)

		if rec := r.tasks.WaitAndRecover(); rec != nil {
			r.logger.Error("background task panicked", slog.String("panic", rec.String()))
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("watchlist: waiting for background writes: %w", ctx.Err())
	}
}

// begin records the new owner under the lock and bumps the generation so
// any load still running for an older owner is discarded when it finishes.
func (r *Reconciler) begin(owner OwnerContext) (transition, bool) {
	if !owner.IsResolved() {
		owner = Guest()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner == r.owner && !r.loadFailed {
		r.logger.Debug("owner unchanged, ignoring notification",
			slog.String("owner", owner.String()),
		)

		return transition{}, false
	}

	prev := r.owner
	r.gen++
	r.owner = owner
	r.ready = false
	r.loadFailed = false

	// Entries of a signed-in user never carry over to the next owner.
	if prev.IsAuthenticated() && prev != owner {
		r.entries = nil
		r.pending = nil
	}

	r.logger.Info("owner context changed",
		slog.String("from", prev.String()),
		slog.String("to", owner.String()),
		slog.Uint64("generation", r.gen),
	)

	r.notifyLocked()

	t := transition{gen: r.gen, owner: owner}
	if owner.IsAuthenticated() && r.saveSeq > 0 {
		t.flushSeq = r.saveSeq
		t.flush = r.queued
	}

	return t, true
}

// complete loads the snapshot for t and applies it if t is still current.
func (r *Reconciler) complete(ctx context.Context, t transition) {
	var (
		entries  []Entry
		migrate  []Entry
		hadLocal bool
		failed   bool
	)

	if t.owner.IsAuthenticated() {
		r.flushLocal(ctx, t)
		entries, migrate, hadLocal, failed = r.loadAuthenticated(ctx, t.owner.UserID())
	} else {
		entries, failed = r.loadGuest(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t.gen != r.gen {
		r.logger.Debug("discarding superseded load",
			slog.String("owner", t.owner.String()),
			slog.Uint64("generation", t.gen),
			slog.Uint64("current", r.gen),
		)

		return
	}

	r.entries = entries
	r.ready = true
	r.loadFailed = failed
	r.migrated = len(migrate)

	if hadLocal {
		r.spawn("migrate", r.migrationTimeout(len(migrate)), func(ctx context.Context) error {
			return r.migrate(ctx, t, migrate)
		})
	}

	pending := r.pending
	r.pending = nil

	for _, op := range pending {
		if r.applyLocked(op) {
			r.persistLocked(op)
		}
	}

	r.logger.Info("snapshot ready",
		slog.String("owner", t.owner.String()),
		slog.Int("entries", len(r.entries)),
		slog.Int("migrating", len(migrate)),
		slog.Int("replayed", len(pending)),
	)

	r.notifyLocked()
}

// loadGuest reads the local snapshot. A read error yields an empty snapshot
// and marks the load as failed so the same owner can retry.
func (r *Reconciler) loadGuest(ctx context.Context) ([]Entry, bool) {
	entries, err := r.local.Load(ctx)
	if err != nil {
		r.logger.Warn("local load failed, starting empty",
			slog.String("error", err.Error()),
		)

		return nil, true
	}

	return dedupe(entries), false
}

// loadAuthenticated merges the local snapshot into the user's remote one.
// Local entries missing remotely go first; duplicates keep the remote copy.
// When the remote load fails the local entries are shown and nothing is
// migrated.
func (r *Reconciler) loadAuthenticated(
	ctx context.Context, userID string,
) (snapshot, toMigrate []Entry, hadLocal, failed bool) {
	local, err := r.local.Load(ctx)
	if err != nil {
		r.logger.Warn("local load failed, nothing to migrate",
			slog.String("error", err.Error()),
		)

		local = nil
	}

	local = dedupe(local)

	remote, err := r.remote.Load(ctx, userID)
	if err != nil {
		r.logger.Warn("remote load failed, showing local entries",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)

		return local, nil, false, true
	}

	remote = dedupe(remote)

	for _, e := range local {
		if indexOf(remote, e.ExternalID) < 0 {
			toMigrate = append(toMigrate, e)
		}
	}

	snapshot = make([]Entry, 0, len(toMigrate)+len(remote))
	snapshot = append(snapshot, toMigrate...)
	snapshot = append(snapshot, remote...)

	return snapshot, toMigrate, len(local) > 0, false
}

// applyLocked applies op to the in-memory snapshot and reports whether it
// changed anything.
func (r *Reconciler) applyLocked(op pendingOp) bool {
	idx := indexOf(r.entries, op.entry.ExternalID)

	switch {
	case op.add && idx < 0:
		r.entries = append(r.entries, op.entry)
		return true
	case !op.add && idx >= 0:
		r.entries = slices.Delete(r.entries, idx, idx+1)
		return true
	default:
		return false
	}
}

// persistLocked schedules the store write for an applied op under the
// current owner.
func (r *Reconciler) persistLocked(op pendingOp) {
	switch {
	case r.owner.IsGuest():
		r.saveSeq++
		seq := r.saveSeq
		snapshot := slices.Clone(r.entries)
		r.queued = snapshot

		r.spawn("save local", r.writeTimeout, func(ctx context.Context) error {
			return r.saveLocal(ctx, seq, snapshot)
		})

	case r.owner.IsAuthenticated():
		userID := r.owner.UserID()
		e := op.entry

		if op.add {
			r.spawn("remote upsert", r.writeTimeout, func(ctx context.Context) error {
				return r.remote.Upsert(ctx, userID, e)
			})

			return
		}

		r.spawn("remote delete", r.writeTimeout, func(ctx context.Context) error {
			return r.remote.Delete(ctx, userID, e.ExternalID)
		})
	}
}

// saveLocal writes snapshot unless a newer snapshot has already been written.
func (r *Reconciler) saveLocal(ctx context.Context, seq uint64, snapshot []Entry) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	if seq <= r.savedSeq {
		r.logger.Debug("skipping stale local save",
			slog.Uint64("seq", seq),
			slog.Uint64("saved", r.savedSeq),
		)

		return nil
	}

	if err := r.local.SaveAll(ctx, snapshot); err != nil {
		return err
	}

	r.savedSeq = seq

	return nil
}

// flushLocal writes the newest guest snapshot scheduled before t began, so
// local entries read for migration include every guest toggle. Older saves
// still in flight are skipped afterwards and cannot land after the Local
// Store is cleared.
func (r *Reconciler) flushLocal(ctx context.Context, t transition) {
	if t.flushSeq == 0 {
		return
	}

	if err := r.saveLocal(ctx, t.flushSeq, t.flush); err != nil {
		r.logger.Warn("flushing guest snapshot before sign-in failed",
			slog.Uint64("seq", t.flushSeq),
			slog.String("error", err.Error()),
		)
	}
}

// migrationTimeout scales the write timeout with the number of batches the
// worker limit allows.
func (r *Reconciler) migrationTimeout(n int) time.Duration {
	batches := (n + r.migrationWorkers - 1) / r.migrationWorkers

	return r.writeTimeout * time.Duration(batches+1)
}

// isCurrent reports whether gen is still the latest identity generation.
func (r *Reconciler) isCurrent(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.gen == gen
}

// spawn runs fn as a detached background task with its own timeout. Errors
// are logged and dropped.
func (r *Reconciler) spawn(op string, timeout time.Duration, fn func(ctx context.Context) error) {
	r.tasks.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			r.logger.Warn("background write failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
	})
}

// notifyLocked wakes every subscriber without blocking.
func (r *Reconciler) notifyLocked() {
	for _, ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
