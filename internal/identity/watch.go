package identity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/cinelist/internal/tokenfile"
)

// Watcher error backoff.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrBackoffMult = 2
	watchErrMaxBackoff  = 30 * time.Second
)

// Subscribe emits the current session immediately and again whenever the
// session file or guest flag changes, including token refreshes. A nil
// value means signed out. The channel closes when ctx is done.
func (p *FileProvider) Subscribe(ctx context.Context) (<-chan *Session, error) {
	if err := os.MkdirAll(p.dataDir, tokenfile.DirPerms); err != nil {
		return nil, fmt.Errorf("identity: creating data directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("identity: creating watcher: %w", err)
	}

	// Watch the directory: atomic saves replace the file, which would drop
	// a watch on the file itself.
	if err := watcher.Add(p.dataDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("identity: watching %s: %w", p.dataDir, err)
	}

	out := make(chan *Session, 1)

	go func() {
		defer close(out)
		defer watcher.Close()

		if !p.emit(ctx, out) {
			return
		}

		p.watchLoop(ctx, watcher, out)
	}()

	return out, nil
}

// watchLoop forwards relevant file events until ctx is done or the watcher
// closes.
func (p *FileProvider) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, out chan<- *Session) {
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}

			if !p.relevant(ev) {
				continue
			}

			p.logger.Debug("identity file changed",
				slog.String("name", filepath.Base(ev.Name)),
				slog.String("op", ev.Op.String()),
			)

			if !p.emit(ctx, out) {
				return
			}

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return
			}

			p.logger.Warn("identity watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := p.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}
		}
	}
}

// relevant filters events down to the session file and the guest flag.
// Temp files from atomic saves are ignored; their rename shows up as a
// Create on the final name.
func (p *FileProvider) relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}

	name := filepath.Clean(ev.Name)

	return name == filepath.Clean(p.sessionPath) || name == filepath.Clean(p.guestPath)
}

// emit reads the session and sends it. Returns false if ctx ended first.
func (p *FileProvider) emit(ctx context.Context, out chan<- *Session) bool {
	s, err := p.CurrentSession(ctx)
	if err != nil {
		p.logger.Warn("unreadable session, treating as signed out",
			slog.String("error", err.Error()),
		)
	}

	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
