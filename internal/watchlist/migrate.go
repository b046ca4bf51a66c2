package watchlist

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// migrate upserts the local-only entries for the signed-in user and then
// clears the Local Store. The local copy is kept when any upsert fails or
// the owner changed while the upserts ran, so a later sign-in can retry.
func (r *Reconciler) migrate(ctx context.Context, t transition, toMigrate []Entry) error {
	userID := t.owner.UserID()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.migrationWorkers)

	for _, e := range toMigrate {
		g.Go(func() error {
			if err := r.remote.Upsert(gctx, userID, e); err != nil {
				return fmt.Errorf("migrating entry %d: %w", e.ExternalID, err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("watchlist: migration incomplete, keeping local entries: %w", err)
	}

	// saveMu keeps guest saves from interleaving with the clear.
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	if !r.isCurrent(t.gen) {
		r.logger.Info("owner changed during migration, keeping local entries",
			slog.String("user_id", userID),
		)

		return nil
	}

	if err := r.local.Clear(ctx); err != nil {
		return fmt.Errorf("watchlist: clearing local store after migration: %w", err)
	}

	r.logger.Info("migrated local entries",
		slog.String("user_id", userID),
		slog.Int("migrated", len(toMigrate)),
	)

	return nil
}
