package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tonimelisma/cinelist/internal/catalog"
	"github.com/tonimelisma/cinelist/internal/config"
	"github.com/tonimelisma/cinelist/internal/identity"
	"github.com/tonimelisma/cinelist/internal/localstore"
	"github.com/tonimelisma/cinelist/internal/remotestore"
	"github.com/tonimelisma/cinelist/internal/watchlist"
)

// errNoOwner is returned by watchlist commands before the user has either
// signed in or chosen guest mode.
var errNoOwner = errors.New("no watchlist yet: run 'cinelist login' to use your account or 'cinelist guest' to keep it on this device")

// errRemoteNotConfigured is what the placeholder remote store returns when
// [remote] is empty. Guest use never reaches it.
var errRemoteNotConfigured = errors.New("account backend not configured: set [remote] in the config file")

// app is the set of collaborators a watchlist command works with.
type app struct {
	cc       *CLIContext
	identity *identity.FileProvider
	local    *localstore.Store
	remote   watchlist.RemoteStore
	bearer   *sessionBearer
	rec      *watchlist.Reconciler

	closeRemote func()
}

// newIdentity returns the file-backed identity provider for the data
// directory.
func newIdentity(cc *CLIContext) *identity.FileProvider {
	return identity.NewFileProvider(&identity.Config{
		DataDir:    config.DefaultDataDir(),
		AuthURL:    cc.Cfg.Remote.URL,
		AnonKey:    cc.Cfg.Remote.AnonKey,
		HTTPClient: &http.Client{Timeout: cc.Cfg.RequestTimeout()},
		Logger:     cc.Logger,
	})
}

// newCatalog returns the title catalog client.
func newCatalog(cc *CLIContext) *catalog.Client {
	return catalog.New(catalog.Config{
		APIKey:     cc.Cfg.Catalog.APIKey,
		Language:   cc.Cfg.Catalog.Language,
		BaseURL:    cc.Cfg.Catalog.BaseURL,
		HTTPClient: defaultHTTPClient(),
		Logger:     cc.Logger,
	})
}

// openApp opens the stores and builds an unresolved Reconciler. The caller
// must call close.
func openApp(ctx context.Context, cc *CLIContext) (*app, error) {
	a := &app{cc: cc, identity: newIdentity(cc), closeRemote: func() {}}

	local, err := localstore.Open(cc.Cfg.Local.Backend, cc.Cfg.Local.Path, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening local watchlist: %w", err)
	}

	a.local = local

	if err := a.openRemote(ctx); err != nil {
		local.Close()
		return nil, err
	}

	rec, err := watchlist.NewReconciler(&watchlist.ReconcilerConfig{
		Local:            a.local,
		Remote:           a.remote,
		Logger:           cc.Logger,
		WriteTimeout:     cc.Cfg.WriteTimeout(),
		MigrationWorkers: cc.Cfg.Sync.MigrationWorkers,
	})
	if err != nil {
		a.closeRemote()
		local.Close()

		return nil, err
	}

	a.rec = rec

	return a, nil
}

func (a *app) openRemote(ctx context.Context) error {
	cfg := a.cc.Cfg

	if !cfg.RemoteConfigured() {
		a.cc.Logger.Debug("account backend not configured, guest only")
		a.remote = offlineRemote{}

		return nil
	}

	switch cfg.Remote.Backend {
	case config.RemoteBackendPostgres:
		pool, err := remotestore.Connect(ctx, cfg.Remote.DatabaseURL)
		if err != nil {
			return err
		}

		if err := remotestore.Migrate(ctx, pool, a.cc.Logger); err != nil {
			pool.Close()
			return err
		}

		a.remote = remotestore.NewPostgres(pool, a.cc.Logger)
		a.closeRemote = pool.Close

	default:
		a.bearer = &sessionBearer{ctx: ctx, provider: a.identity}

		rest, err := remotestore.NewREST(&remotestore.RESTConfig{
			BaseURL:    cfg.Remote.URL,
			AnonKey:    cfg.Remote.AnonKey,
			Table:      cfg.Remote.Table,
			HTTPClient: &http.Client{Timeout: cfg.RequestTimeout()},
			Token:      a.bearer,
			Logger:     a.cc.Logger,
		})
		if err != nil {
			return err
		}

		a.remote = rest
	}

	return nil
}

// currentOwner resolves who owns the watchlist right now. Without a session
// or the guest flag there is no owner and errNoOwner is returned.
func (a *app) currentOwner(ctx context.Context) (watchlist.OwnerContext, error) {
	owner := a.identity.Owner(ctx)

	if owner.IsGuest() && !a.identity.IsGuest() {
		return watchlist.OwnerContext{}, errNoOwner
	}

	if owner.IsAuthenticated() && !a.cc.Cfg.RemoteConfigured() {
		return watchlist.OwnerContext{}, errRemoteNotConfigured
	}

	return owner, nil
}

// load resolves the owner and blocks until the matching snapshot is loaded.
func (a *app) load(ctx context.Context) error {
	owner, err := a.currentOwner(ctx)
	if err != nil {
		return err
	}

	a.rec.OnIdentityChange(ctx, owner)

	a.cc.Logger.Debug("watchlist loaded",
		slog.String("owner", owner.String()),
		slog.Int("entries", len(a.rec.Snapshot())),
	)

	return nil
}

// close waits for background writes, bounded by the shutdown timeout, then
// releases the stores. The wait is not tied to the command context, which
// may already be canceled.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cc.Cfg.ShutdownTimeout())
	defer cancel()

	waitErr := a.rec.Wait(ctx)
	if waitErr != nil {
		a.cc.Logger.Warn("background writes still pending at exit", slog.String("error", waitErr.Error()))
	}

	a.closeRemote()

	return errors.Join(waitErr, a.local.Close())
}

// sessionBearer resolves the bearer token from whatever session is saved at
// the time of the request. Reset drops the cached source after the signed-in
// user changes.
type sessionBearer struct {
	ctx      context.Context
	provider *identity.FileProvider

	mu  sync.Mutex
	src *identity.BearerSource
}

func (b *sessionBearer) Token() (string, error) {
	b.mu.Lock()
	src := b.src
	b.mu.Unlock()

	if src == nil {
		var err error

		src, err = b.provider.TokenSource(b.ctx)
		if err != nil {
			return "", err
		}

		b.mu.Lock()
		b.src = src
		b.mu.Unlock()
	}

	tok, err := src.Token()
	if errors.Is(err, identity.ErrNotSignedIn) {
		b.Reset()
	}

	return tok, err
}

// Reset forgets the cached token source.
func (b *sessionBearer) Reset() {
	b.mu.Lock()
	b.src = nil
	b.mu.Unlock()
}

// offlineRemote stands in for the account backend when none is configured.
type offlineRemote struct{}

func (offlineRemote) Load(context.Context, string) ([]watchlist.Entry, error) {
	return nil, errRemoteNotConfigured
}

func (offlineRemote) Upsert(context.Context, string, watchlist.Entry) error {
	return errRemoteNotConfigured
}

func (offlineRemote) Delete(context.Context, string, int64) error {
	return errRemoteNotConfigured
}
