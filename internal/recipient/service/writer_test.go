package service

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolodex/internal/message"
	"rolodex/internal/recipient/models"
	"rolodex/internal/recipient/remap"
	"rolodex/internal/recipient/resolve"
	"rolodex/internal/recipient/store"
	"rolodex/internal/session"
	"rolodex/internal/thread"
	"rolodex/pkg/domain"
	"rolodex/pkg/platform/sentinel"
)

type fixture struct {
	recipients *store.InMemoryStore
	threads    *thread.InMemoryStore
	messages   *message.InMemoryStore
	sessions   *session.InMemoryStore
	ledger     *remap.InMemoryLedger
	writer     *Writer
}

func newFixture() *fixture {
	f := &fixture{
		recipients: store.NewInMemoryStore(),
		threads:    thread.NewInMemoryStore(),
		messages:   message.NewInMemoryStore(),
		sessions:   session.NewInMemoryStore(),
		ledger:     remap.NewInMemoryLedger(),
	}
	f.writer = NewWriter(f.recipients, f.threads, f.messages, f.sessions, f.ledger,
		slog.New(slog.DiscardHandler), nil)
	return f
}

func aciN(n byte) domain.ACI { return domain.ACI(uuid.UUID{0xAC, n}) }
func pniN(n byte) domain.PNI { return domain.PNI(uuid.UUID{0xB0, n}) }

const (
	numberA domain.E164 = "+15551230100"
	numberB domain.E164 = "+15551230200"
)

func TestWriterInsert(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.writer.Apply(ctx, resolve.ChangeSet{
		Resolution: resolve.Resolution{Insert: &models.Tuple{E164: numberA, ACI: aciN(1)}},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, res.Outcome)

	rec, err := f.recipients.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, numberA, rec.E164)
	assert.Equal(t, aciN(1), rec.ACI)
	assert.True(t, rec.Registered, "an account id implies registration")
	assert.NotEqual(t, uuid.Nil, rec.StorageSyncID, "inserts get a fresh sync id")
}

func TestWriterGapFill(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, err := f.recipients.Insert(ctx, models.Record{E164: numberA, StorageSyncID: uuid.New()})
	require.NoError(t, err)

	res, err := f.writer.Apply(ctx, resolve.ChangeSet{
		Resolution: resolve.Resolution{Existing: id},
		Ops: []resolve.Operation{
			resolve.SetPNI{ID: id, PNI: pniN(1)},
			resolve.SetACI{ID: id, ACI: aciN(1)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.ElementsMatch(t, []domain.RecipientID{id}, res.Affected)

	rec, err := f.recipients.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pniN(1), rec.PNI)
	assert.Equal(t, aciN(1), rec.ACI)
	assert.True(t, rec.Registered)
}

func TestWriterMerge(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pri, err := f.recipients.Insert(ctx, models.Record{
		ACI: aciN(1), ProfileGivenName: "Ada", StorageSyncID: uuid.New(),
	})
	require.NoError(t, err)
	sec, err := f.recipients.Insert(ctx, models.Record{
		E164: numberA, Blocked: true, NotifyChannel: "quiet", StorageSyncID: uuid.New(),
	})
	require.NoError(t, err)

	priThread, err := f.threads.GetOrCreate(ctx, pri)
	require.NoError(t, err)
	_, err = f.threads.GetOrCreate(ctx, sec)
	require.NoError(t, err)

	require.NoError(t, f.messages.Insert(ctx, message.Message{ThreadID: priThread, RecipientID: sec, Kind: message.KindChat}))
	require.NoError(t, f.sessions.Put(ctx, session.Session{
		ServiceID: domain.ServiceIDFromPNI(pniN(9)), E164: numberA, IdentityKey: []byte{1},
	}))

	res, err := f.writer.Apply(ctx, resolve.ChangeSet{
		Resolution: resolve.Resolution{Existing: pri},
		Ops:        []resolve.Operation{resolve.Merge{Primary: pri, Secondary: sec}},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res.Outcome)
	assert.Equal(t, pri, res.ID)
	assert.Equal(t, []domain.RecipientID{sec}, res.Retired)

	t.Run("secondary row is gone and slots are free", func(t *testing.T) {
		_, err := f.recipients.Get(ctx, sec)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("survivor absorbed identifiers and preferences", func(t *testing.T) {
		rec, err := f.recipients.Get(ctx, pri)
		require.NoError(t, err)
		assert.Equal(t, numberA, rec.E164)
		assert.Equal(t, aciN(1), rec.ACI)
		assert.True(t, rec.Blocked, "blocks survive merges")
		assert.Equal(t, "quiet", rec.NotifyChannel)
		assert.Equal(t, "Ada", rec.ProfileGivenName)
	})

	t.Run("no message points at the retired id", func(t *testing.T) {
		orphans, err := f.messages.ByRecipient(ctx, sec)
		require.NoError(t, err)
		assert.Empty(t, orphans)
	})

	t.Run("sessions on the secondary's number were dropped", func(t *testing.T) {
		count, err := f.sessions.ActiveSessionCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("thread-merge notice landed in the surviving thread", func(t *testing.T) {
		msgs, err := f.messages.ByThread(ctx, priThread)
		require.NoError(t, err)
		var notices int
		for _, m := range msgs {
			if m.Kind == message.KindThreadMerge {
				notices++
				assert.Equal(t, numberA, m.OldE164)
			}
		}
		assert.Equal(t, 1, notices)
	})

	t.Run("ledger remembers the retired id", func(t *testing.T) {
		survivor, err := f.ledger.Resolve(ctx, sec)
		require.NoError(t, err)
		assert.Equal(t, pri, survivor)
	})
}

func TestWriterChainedMergesLedger(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	r1, err := f.recipients.Insert(ctx, models.Record{E164: numberA, StorageSyncID: uuid.New()})
	require.NoError(t, err)
	r2, err := f.recipients.Insert(ctx, models.Record{PNI: pniN(1), StorageSyncID: uuid.New()})
	require.NoError(t, err)
	r3, err := f.recipients.Insert(ctx, models.Record{ACI: aciN(1), StorageSyncID: uuid.New()})
	require.NoError(t, err)

	_, err = f.writer.Apply(ctx, resolve.ChangeSet{
		Resolution: resolve.Resolution{Existing: r1},
		Ops:        []resolve.Operation{resolve.Merge{Primary: r1, Secondary: r2}},
	})
	require.NoError(t, err)
	_, err = f.writer.Apply(ctx, resolve.ChangeSet{
		Resolution: resolve.Resolution{Existing: r3},
		Ops:        []resolve.Operation{resolve.Merge{Primary: r3, Secondary: r1}},
	})
	require.NoError(t, err)

	all, err := f.ledger.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.RecipientID]domain.RecipientID{
		r1: r3,
		r2: r3,
	}, all, "every retired id maps straight to the final survivor")
}

func TestWriterSwitchoverNotice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, err := f.recipients.Insert(ctx, models.Record{E164: numberA, PNI: pniN(1), StorageSyncID: uuid.New()})
	require.NoError(t, err)

	t.Run("without a live session the notice is an invariant violation", func(t *testing.T) {
		_, err := f.writer.Apply(ctx, resolve.ChangeSet{
			Resolution: resolve.Resolution{Existing: id},
			Ops:        []resolve.Operation{resolve.SessionSwitchoverInsert{ID: id, E164: numberA}},
		})
		assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	})

	t.Run("with a session the notice lands in the thread", func(t *testing.T) {
		require.NoError(t, f.sessions.Put(ctx, session.Session{
			ServiceID: domain.ServiceIDFromPNI(pniN(1)), E164: numberA, IdentityKey: []byte{1},
		}))

		_, err := f.writer.Apply(ctx, resolve.ChangeSet{
			Resolution: resolve.Resolution{Existing: id},
			Ops: []resolve.Operation{
				resolve.SessionSwitchoverInsert{ID: id, E164: numberA},
				resolve.SetACI{ID: id, ACI: aciN(1)},
			},
		})
		require.NoError(t, err)

		tid, ok, err := f.threads.Find(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		msgs, err := f.messages.ByThread(ctx, tid)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, message.KindSessionSwitch, msgs[0].Kind)
		assert.Equal(t, numberA, msgs[0].OldE164, "the notice carries the record's number")
	})
}

func TestWriterSwitchoverLogsIdentityFingerprint(t *testing.T) {
	f := newFixture()
	var logs bytes.Buffer
	f.writer.logger = slog.New(slog.NewTextHandler(&logs, nil))
	ctx := context.Background()

	id, err := f.recipients.Insert(ctx, models.Record{E164: numberA, PNI: pniN(1), StorageSyncID: uuid.New()})
	require.NoError(t, err)
	key := []byte{7, 7, 7}
	require.NoError(t, f.sessions.Put(ctx, session.Session{
		ServiceID: domain.ServiceIDFromPNI(pniN(1)), E164: numberA, IdentityKey: key,
	}))

	_, err = f.writer.Apply(ctx, resolve.ChangeSet{
		Resolution: resolve.Resolution{Existing: id},
		Ops: []resolve.Operation{
			resolve.SessionSwitchoverInsert{ID: id, E164: numberA},
			resolve.SetACI{ID: id, ACI: aciN(1)},
		},
	})
	require.NoError(t, err)

	fp, err := session.Fingerprint(key)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), fp, "the log names the superseded key by fingerprint, never raw material")
}

func TestWriterMergeDropsSecondaryAnchorSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pri, err := f.recipients.Insert(ctx, models.Record{ACI: aciN(1), StorageSyncID: uuid.New()})
	require.NoError(t, err)
	sec, err := f.recipients.Insert(ctx, models.Record{PNI: pniN(1), StorageSyncID: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, f.sessions.Put(ctx, session.Session{
		ServiceID: domain.ServiceIDFromPNI(pniN(1)), IdentityKey: []byte{1},
	}))
	require.NoError(t, f.sessions.Put(ctx, session.Session{
		ServiceID: domain.ServiceIDFromACI(aciN(1)), IdentityKey: []byte{2},
	}))

	_, err = f.writer.Apply(ctx, resolve.ChangeSet{
		Resolution: resolve.Resolution{Existing: pri},
		Ops:        []resolve.Operation{resolve.Merge{Primary: pri, Secondary: sec}},
	})
	require.NoError(t, err)

	gone, err := f.sessions.HasActiveSession(ctx, domain.ServiceIDFromPNI(pniN(1)))
	require.NoError(t, err)
	assert.False(t, gone, "the privacy-id session is superseded by the account-id one")

	kept, err := f.sessions.HasActiveSession(ctx, domain.ServiceIDFromACI(aciN(1)))
	require.NoError(t, err)
	assert.True(t, kept)
}

func TestWriterEmptyChangeSetReportsMatched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, err := f.recipients.Insert(ctx, models.Record{E164: numberA, StorageSyncID: uuid.New()})
	require.NoError(t, err)

	res, err := f.writer.Apply(ctx, resolve.ChangeSet{Resolution: resolve.Resolution{Existing: id}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatched, res.Outcome)
	assert.Empty(t, res.Affected)
}

func TestWriterMergeNoticeSuppressesSwitchover(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pri, err := f.recipients.Insert(ctx, models.Record{ACI: aciN(1), StorageSyncID: uuid.New()})
	require.NoError(t, err)
	sec, err := f.recipients.Insert(ctx, models.Record{E164: numberA, StorageSyncID: uuid.New()})
	require.NoError(t, err)
	_, err = f.threads.GetOrCreate(ctx, pri)
	require.NoError(t, err)
	_, err = f.threads.GetOrCreate(ctx, sec)
	require.NoError(t, err)
	require.NoError(t, f.sessions.Put(ctx, session.Session{
		ServiceID: domain.ServiceIDFromACI(aciN(1)), IdentityKey: []byte{1},
	}))

	_, err = f.writer.Apply(ctx, resolve.ChangeSet{
		Resolution: resolve.Resolution{Existing: pri},
		Ops: []resolve.Operation{
			resolve.Merge{Primary: pri, Secondary: sec},
			resolve.SessionSwitchoverInsert{ID: pri, E164: ""},
		},
	})
	require.NoError(t, err)

	tid, ok, err := f.threads.Find(ctx, pri)
	require.NoError(t, err)
	require.True(t, ok)
	msgs, err := f.messages.ByThread(ctx, tid)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "the merge notice already covers the change")
	assert.Equal(t, message.KindThreadMerge, msgs[0].Kind)
}

func TestWriterRejectsChangeNumberOnInsert(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.writer.Apply(ctx, resolve.ChangeSet{
		Resolution: resolve.Resolution{Insert: &models.Tuple{E164: numberA}},
		Ops:        []resolve.Operation{resolve.ChangeNumberInsert{ID: 1, NewE164: numberA, OldE164: numberB}},
	})
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestMergeRecords(t *testing.T) {
	mute := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	pri := models.Record{
		ID: 1, ACI: aciN(1),
		ProfileSharing: true,
		Capabilities:   models.Capabilities{StorageService: 1},
		StorageSyncID:  uuid.UUID{0x51},
	}
	sec := models.Record{
		ID: 2, E164: numberA, PNI: pniN(1),
		Blocked: true, MuteUntil: mute, ChatColorID: 7, NotifyChannel: "quiet",
		ProfileKey: []byte{9}, ProfileGivenName: "Ada", ProfileFamilyName: "L",
		Capabilities:  models.Capabilities{DeleteSync: 2},
		StorageSyncID: uuid.UUID{0x52},
	}

	out := mergeRecords(pri, sec)

	assert.Equal(t, domain.RecipientID(1), out.ID)
	assert.Equal(t, aciN(1), out.ACI)
	assert.Equal(t, pniN(1), out.PNI)
	assert.Equal(t, numberA, out.E164)
	assert.True(t, out.Blocked)
	assert.True(t, out.ProfileSharing)
	assert.Equal(t, mute, out.MuteUntil)
	assert.Equal(t, int32(7), out.ChatColorID)
	assert.Equal(t, "quiet", out.NotifyChannel)
	assert.Equal(t, []byte{9}, out.ProfileKey)
	assert.Equal(t, "Ada", out.ProfileGivenName)
	assert.Equal(t, models.Capabilities{StorageService: 1, DeleteSync: 2}, out.Capabilities)
	assert.Equal(t, uuid.UUID{0x51}, out.StorageSyncID, "remote state tracks the survivor")
}
