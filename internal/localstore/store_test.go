package localstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cinelist/internal/watchlist"
)

func newTestStore(t *testing.T) (*Store, KV) {
	t.Helper()

	kv := newTestKV(t, BackendSQLite)

	return NewStore(kv, testLogger(t)), kv
}

func TestStore_LoadAbsentIsEmpty(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)

	entries, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_SaveAllLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	poster := "/fc.jpg"
	want := []watchlist.Entry{
		{ExternalID: 550, Kind: watchlist.MediaMovie, Title: "Fight Club", PosterPath: &poster, Rating: 8.4, ReleaseDate: "1999-10-15"},
		{ExternalID: 1399, Kind: watchlist.MediaSeries, Title: "Game of Thrones", Overview: "Winter."},
	}

	require.NoError(t, s.SaveAll(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_WireFormat(t *testing.T) {
	t.Parallel()

	s, kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAll(ctx, []watchlist.Entry{
		{ExternalID: 550, Kind: watchlist.MediaMovie, Title: "Fight Club"},
	}))

	raw, ok, err := kv.Get(ctx, WatchlistKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t,
		`[{"id":550,"media_type":"movie","title":"Fight Club","overview":"","vote_average":0,"release_date":""}]`,
		string(raw))
}

func TestStore_SaveAllEmptyWritesArray(t *testing.T) {
	t.Parallel()

	s, kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAll(ctx, nil))

	raw, ok, err := kv.Get(ctx, WatchlistKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[]", string(raw))
}

func TestStore_MalformedIsEmpty(t *testing.T) {
	t.Parallel()

	s, kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, WatchlistKey, []byte(`{not json`)))

	entries, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_DefaultsKindAndDropsInvalid(t *testing.T) {
	t.Parallel()

	s, kv := newTestStore(t)
	ctx := context.Background()

	payload := `[
		{"id": 603, "title": "The Matrix"},
		{"id": 0, "title": "No id"},
		{"id": 13, "media_type": "tv", "title": ""}
	]`
	require.NoError(t, kv.Set(ctx, WatchlistKey, []byte(payload)))

	entries, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(603), entries[0].ExternalID)
	assert.Equal(t, watchlist.MediaMovie, entries[0].Kind)
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAll(ctx, []watchlist.Entry{{ExternalID: 1, Kind: watchlist.MediaMovie, Title: "A"}}))
	require.NoError(t, s.Clear(ctx))

	entries, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpen_Bolt(t *testing.T) {
	t.Parallel()

	s, err := Open(BackendBolt, t.TempDir()+"/watchlist.bolt", testLogger(t))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SaveAll(ctx, []watchlist.Entry{{ExternalID: 1, Kind: watchlist.MediaMovie, Title: "A"}}))

	entries, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
