package watchlist

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"
)

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

var errInjected = errors.New("injected failure")

// memLocal is an in-memory LocalStore.
type memLocal struct {
	mu      sync.Mutex
	entries []Entry
	saves   int
	clears  int
	loadErr error
	saveErr error

	saveDelay time.Duration // applied before each SaveAll takes the lock
}

func (m *memLocal) Load(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadErr != nil {
		return nil, m.loadErr
	}

	return slices.Clone(m.entries), nil
}

func (m *memLocal) SaveAll(_ context.Context, entries []Entry) error {
	time.Sleep(m.saveDelay)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}

	m.saves++
	m.entries = slices.Clone(entries)

	return nil
}

func (m *memLocal) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clears++
	m.entries = nil

	return nil
}

func (m *memLocal) stored() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.entries)
}

// memRemote is an in-memory RemoteStore keeping each user's rows newest
// first, like a table ordered by added_at descending.
type memRemote struct {
	mu      sync.Mutex
	rows    map[string][]Entry
	upserts int
	deletes int
	loads   int

	loadErr   error
	upsertErr map[int64]error

	// When loadGate is set, Load signals loadStarted and then blocks until
	// the gate is closed.
	loadGate    chan struct{}
	loadStarted chan struct{}
}

func newMemRemote() *memRemote {
	return &memRemote{
		rows:      make(map[string][]Entry),
		upsertErr: make(map[int64]error),
	}
}

func (m *memRemote) Load(ctx context.Context, userID string) ([]Entry, error) {
	m.mu.Lock()
	gate, started := m.loadGate, m.loadStarted
	m.loads++
	m.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}

		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadErr != nil {
		return nil, m.loadErr
	}

	return slices.Clone(m.rows[userID]), nil
}

func (m *memRemote) Upsert(_ context.Context, userID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.upsertErr[e.ExternalID]; err != nil {
		return err
	}

	m.upserts++

	rows := m.rows[userID]
	if i := indexOf(rows, e.ExternalID); i >= 0 {
		rows[i] = e
		return nil
	}

	m.rows[userID] = append([]Entry{e}, rows...)

	return nil
}

func (m *memRemote) Delete(_ context.Context, userID string, externalID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++

	rows := m.rows[userID]
	if i := indexOf(rows, externalID); i >= 0 {
		m.rows[userID] = slices.Delete(rows, i, i+1)
	}

	return nil
}

func (m *memRemote) stored(userID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.rows[userID])
}

func (m *memRemote) counts() (upserts, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.upserts, m.deletes
}

// movie builds a minimal valid movie entry.
func movie(id int64, title string) Entry {
	return Entry{ExternalID: id, Kind: MediaMovie, Title: title}
}

// series builds a minimal valid series entry.
func series(id int64, title string) Entry {
	return Entry{ExternalID: id, Kind: MediaSeries, Title: title}
}

func ids(entries []Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ExternalID
	}

	return out
}
