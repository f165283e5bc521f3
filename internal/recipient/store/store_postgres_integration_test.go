//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolodex/internal/recipient/models"
	"rolodex/pkg/platform/sentinel"
	txpkg "rolodex/pkg/platform/tx"
	"rolodex/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()

	s := NewPostgresStore(pg.DB)
	require.NoError(t, s.Migrate(ctx))

	reset := func(t *testing.T) {
		t.Helper()
		require.NoError(t, pg.TruncateAll(ctx, "recipients"))
	}

	t.Run("round trip preserves every field", func(t *testing.T) {
		reset(t)

		in := models.Record{
			ACI: testACI(1), PNI: testPNI(1), E164: "+15551230100",
			Registered: true, Blocked: true, ProfileSharing: true,
			ChatColorID: 4, NotifyChannel: "quiet",
			ProfileKey: []byte{1, 2, 3}, ProfileGivenName: "Ada", ProfileFamilyName: "Lovelace",
			Capabilities:  models.Capabilities{StorageService: 1, DeleteSync: 2},
			StorageSyncID: uuid.New(),
		}
		id, err := s.Insert(ctx, in)
		require.NoError(t, err)

		out, err := s.Get(ctx, id)
		require.NoError(t, err)
		in.ID = id
		in.MuteUntil = out.MuteUntil
		assert.Equal(t, in, out)
	})

	t.Run("unique constraints map to conflict", func(t *testing.T) {
		reset(t)

		_, err := s.Insert(ctx, models.Record{E164: "+15551230100", StorageSyncID: uuid.New()})
		require.NoError(t, err)

		_, err = s.Insert(ctx, models.Record{E164: "+15551230100", StorageSyncID: uuid.New()})
		assert.ErrorIs(t, err, sentinel.ErrConflict)

		other, err := s.Insert(ctx, models.Record{PNI: testPNI(1), StorageSyncID: uuid.New()})
		require.NoError(t, err)
		err = s.SetE164(ctx, other, "+15551230100")
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("removals free unique slots", func(t *testing.T) {
		reset(t)

		first, err := s.Insert(ctx, models.Record{E164: "+15551230100", PNI: testPNI(1), StorageSyncID: uuid.New()})
		require.NoError(t, err)
		second, err := s.Insert(ctx, models.Record{ACI: testACI(1), StorageSyncID: uuid.New()})
		require.NoError(t, err)

		require.NoError(t, s.RemoveE164(ctx, first))
		require.NoError(t, s.RemovePNI(ctx, first))

		require.NoError(t, s.SetE164(ctx, second, "+15551230100"))
		require.NoError(t, s.SetPNI(ctx, second, testPNI(1)))

		rec, err := s.Get(ctx, second)
		require.NoError(t, err)
		assert.True(t, rec.Registered, "binding a pni marks registration")
	})

	t.Run("find matching requires every present field", func(t *testing.T) {
		reset(t)

		id, err := s.Insert(ctx, models.Record{
			E164: "+15551230100", ACI: testACI(1), StorageSyncID: uuid.New(),
		})
		require.NoError(t, err)

		got, err := s.FindMatching(ctx, models.Tuple{E164: "+15551230100", ACI: testACI(1)})
		require.NoError(t, err)
		assert.Equal(t, id, got)

		_, err = s.FindMatching(ctx, models.Tuple{E164: "+15551230100", ACI: testACI(2)})
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("writes join the transaction in context", func(t *testing.T) {
		reset(t)

		id, err := s.Insert(ctx, models.Record{E164: "+15551230100", StorageSyncID: uuid.New()})
		require.NoError(t, err)

		runner := txpkg.SQLRunner{DB: pg.DB}
		wantErr := assert.AnError
		err = runner.InTx(ctx, func(txCtx context.Context) error {
			if err := s.SetACI(txCtx, id, testACI(1)); err != nil {
				return err
			}
			return wantErr
		})
		require.ErrorIs(t, err, wantErr)

		rec, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.ACI.IsNil(), "the rolled-back write left no trace")

		require.NoError(t, runner.InTx(ctx, func(txCtx context.Context) error {
			return s.SetACI(txCtx, id, testACI(1))
		}))
		rec, err = s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, testACI(1), rec.ACI)
	})

	t.Run("delete frees everything", func(t *testing.T) {
		reset(t)

		id, err := s.Insert(ctx, models.Record{E164: "+15551230100", StorageSyncID: uuid.New()})
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, id))

		_, err = s.Get(ctx, id)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		_, err = s.Insert(ctx, models.Record{E164: "+15551230100", StorageSyncID: uuid.New()})
		assert.NoError(t, err)
	})
}
