package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

// sampleRegistry builds a registry that touches every persisted field.
func sampleRegistry(t *testing.T) *teamlist.Registry {
	t.Helper()
	r := teamlist.NewRegistry()

	e, err := r.Create("g1", "c1", "alpha")
	require.NoError(t, err)
	_, err = r.AddExcludedRole(e.Key(), "benched")
	require.NoError(t, err)
	_, err = r.AddExcludedRole(e.Key(), "retired")
	require.NoError(t, err)
	require.NoError(t, r.SetMessageID(e.Key(), "m100"))
	require.NoError(t, r.MarkRendered(e.Key(), time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)))

	_, err = r.Create("g1", "c2", "beta")
	require.NoError(t, err)
	_, err = r.Create("g2", "c3", "gamma")
	require.NoError(t, err)

	require.NoError(t, r.SetRankPriority("g1", "captain", "Captain", 2))
	require.NoError(t, r.SetRankPriority("g1", "soldier", "Soldier", 5))
	require.NoError(t, r.SetCustomParameter("g1", "Lane", []string{"top", "mid"}))
	require.NoError(t, r.SetCustomParameter("g2", "Region", []string{"eu"}))
	require.NoError(t, r.SetEmbedColor("g1", 0xABCDEF))
	return r
}

var stateOpts = []cmp.Option{
	cmpopts.EquateEmpty(),
	cmpopts.SortSlices(func(a, b teamlist.ListEntity) bool { return a.Key().String() < b.Key().String() }),
	cmpopts.SortSlices(func(a, b teamlist.RankRole) bool { return a.RoleID < b.RoleID }),
	cmpopts.SortSlices(func(a, b teamlist.CustomParameter) bool { return a.Label < b.Label }),
}

func assertRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	want := sampleRegistry(t).Snapshot()

	require.NoError(t, s.Save(ctx, want))
	loaded, err := s.Load(ctx)
	require.NoError(t, err)

	restored := teamlist.NewRegistry()
	require.NoError(t, restored.Restore(loaded))

	if diff := cmp.Diff(want, restored.Snapshot(), stateOpts...); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONStoreRoundTrip(t *testing.T) {
	assertRoundTrip(t, NewJSONStore(filepath.Join(t.TempDir(), "state.json")))
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "state.sqlite"))
	require.NoError(t, s.Init())
	t.Cleanup(func() { _ = s.Close() })
	assertRoundTrip(t, s)
}

func TestSaveOverwritesPreviousDocument(t *testing.T) {
	for _, driver := range []string{DriverJSON, DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			s, err := Open(driver, filepath.Join(t.TempDir(), "state."+driver))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			ctx := context.Background()

			require.NoError(t, s.Save(ctx, sampleRegistry(t).Snapshot()))

			small := teamlist.NewRegistry()
			_, err = small.Create("g9", "c9", "only")
			require.NoError(t, err)
			require.NoError(t, s.Save(ctx, small.Snapshot()))

			loaded, err := s.Load(ctx)
			require.NoError(t, err)
			require.Len(t, loaded.Lists, 1)
			require.Equal(t, "only", loaded.Lists[0].TeamRoleID)
			require.Empty(t, loaded.RankRoles)
			require.Empty(t, loaded.CustomParameters)
			require.Empty(t, loaded.GuildSettings)
		})
	}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	s := NewJSONStore(filepath.Join(t.TempDir(), "absent.json"))
	st, err := s.Load(context.Background())
	require.NoError(t, err)
	require.True(t, st.Empty())
}

func TestJSONDocumentLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewJSONStore(path)
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	require.NoError(t, s.Save(context.Background(), sampleRegistry(t).Snapshot()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	for _, want := range []string{
		`"version": 1`,
		`"saved_at": "2024-01-02T03:04:05Z"`,
		`"lists": {`,
		`"c1": {`,
		`"alpha": {`,
		`"message_id": "m100"`,
		`"rank_roles": {`,
		`"priority": 2`,
		`"custom_parameters": {`,
		`"embed_color": 11259375`,
	} {
		require.True(t, strings.Contains(text, want), "document missing %s:\n%s", want, text)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "x")
	require.Error(t, err)
}

func TestSQLiteUninitialized(t *testing.T) {
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "x.sqlite"))
	_, err := s.Load(context.Background())
	require.Error(t, err)
	require.Error(t, s.Save(context.Background(), teamlist.State{}))
}

func TestPersisterSaveAndRestore(t *testing.T) {
	s := NewJSONStore(filepath.Join(t.TempDir(), "state.json"))
	src := sampleRegistry(t)
	require.NoError(t, NewPersister(src, s).Save(context.Background()))

	dst := teamlist.NewRegistry()
	require.NoError(t, NewPersister(dst, s).Restore(context.Background()))

	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot(), stateOpts...); diff != "" {
		t.Fatalf("restore mismatch (-want +got):\n%s", diff)
	}
}
