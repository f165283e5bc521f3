// Package service coordinates identity resolution end to end: the
// orchestrator reads state, runs the pure resolver and retries on constraint
// conflicts; the writer applies the resulting change set transactionally
// across the recipient, thread, message, session and remap stores.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"rolodex/internal/message"
	"rolodex/internal/recipient/metrics"
	"rolodex/internal/recipient/models"
	"rolodex/internal/recipient/remap"
	"rolodex/internal/recipient/resolve"
	"rolodex/internal/recipient/store"
	"rolodex/internal/session"
	"rolodex/internal/thread"
	"rolodex/pkg/domain"
	"rolodex/pkg/platform/sentinel"
)

// Outcome classifies what applying a change set did to the recipient table.
type Outcome string

const (
	// OutcomeMatched means nothing was written: the tuple already matched a
	// record exactly, either on the lock-free fast path or because the
	// resolver produced an empty change set.
	OutcomeMatched  Outcome = "matched"
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeMerged   Outcome = "merged"
)

// ApplyResult reports the surviving record and everything the apply touched,
// so post-commit hooks know what to invalidate and remap.
type ApplyResult struct {
	ID       domain.RecipientID
	Outcome  Outcome
	Retired  []domain.RecipientID
	Affected []domain.RecipientID
}

// Writer applies change sets. It assumes the caller established a transaction
// in the context; every store call it makes joins that transaction.
type Writer struct {
	recipients store.Store
	threads    thread.Store
	messages   message.Store
	sessions   session.Store
	ledger     remap.Ledger
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewWriter(
	recipients store.Store,
	threads thread.Store,
	messages message.Store,
	sessions session.Store,
	ledger remap.Ledger,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Writer {
	return &Writer{
		recipients: recipients,
		threads:    threads,
		messages:   messages,
		sessions:   sessions,
		ledger:     ledger,
		logger:     logger,
		metrics:    m,
	}
}

// Apply executes a change set in order. Removals run before sets so unique
// slots free up in time; merges run their full consolidation sequence; notice
// operations land in the surviving conversation.
func (w *Writer) Apply(ctx context.Context, cs resolve.ChangeSet) (ApplyResult, error) {
	if err := w.validate(ctx, cs); err != nil {
		return ApplyResult{}, err
	}

	var res ApplyResult
	affected := make(map[domain.RecipientID]struct{})
	// A thread-merge notice already tells the user the conversation changed
	// shape; a switchover notice for the same record on top of it is noise.
	mergeNoticed := make(map[domain.RecipientID]struct{})

	for _, op := range cs.Ops {
		switch o := op.(type) {
		case resolve.SetACI:
			if err := w.recipients.SetACI(ctx, o.ID, o.ACI); err != nil {
				return ApplyResult{}, fmt.Errorf("set aci on %d: %w", o.ID, err)
			}
			affected[o.ID] = struct{}{}
		case resolve.SetPNI:
			if err := w.recipients.SetPNI(ctx, o.ID, o.PNI); err != nil {
				return ApplyResult{}, fmt.Errorf("set pni on %d: %w", o.ID, err)
			}
			affected[o.ID] = struct{}{}
		case resolve.SetE164:
			if err := w.recipients.SetE164(ctx, o.ID, o.E164); err != nil {
				return ApplyResult{}, fmt.Errorf("set e164 on %d: %w", o.ID, err)
			}
			affected[o.ID] = struct{}{}
		case resolve.RemoveE164:
			if err := w.recipients.RemoveE164(ctx, o.ID); err != nil {
				return ApplyResult{}, fmt.Errorf("remove e164 from %d: %w", o.ID, err)
			}
			affected[o.ID] = struct{}{}
		case resolve.RemovePNI:
			if err := w.recipients.RemovePNI(ctx, o.ID); err != nil {
				return ApplyResult{}, fmt.Errorf("remove pni from %d: %w", o.ID, err)
			}
			affected[o.ID] = struct{}{}
		case resolve.Merge:
			noticed, err := w.merge(ctx, o)
			if err != nil {
				return ApplyResult{}, err
			}
			if noticed {
				mergeNoticed[o.Primary] = struct{}{}
			}
			affected[o.Primary] = struct{}{}
			affected[o.Secondary] = struct{}{}
			res.Retired = append(res.Retired, o.Secondary)
		case resolve.SessionSwitchoverInsert:
			if _, skip := mergeNoticed[o.ID]; skip {
				continue
			}
			tid, err := w.threads.GetOrCreate(ctx, o.ID)
			if err != nil {
				return ApplyResult{}, fmt.Errorf("thread for switchover notice on %d: %w", o.ID, err)
			}
			if err := w.messages.InsertSessionSwitchoverNotice(ctx, tid, o.ID, o.E164); err != nil {
				return ApplyResult{}, fmt.Errorf("switchover notice on %d: %w", o.ID, err)
			}
			w.metrics.IncSessionSwitchover()
		case resolve.ChangeNumberInsert:
			tid, err := w.threads.GetOrCreate(ctx, o.ID)
			if err != nil {
				return ApplyResult{}, fmt.Errorf("thread for number-change notice on %d: %w", o.ID, err)
			}
			if err := w.messages.InsertNumberChangedNotice(ctx, tid, o.ID, o.OldE164, o.NewE164); err != nil {
				return ApplyResult{}, fmt.Errorf("number-change notice on %d: %w", o.ID, err)
			}
		default:
			return ApplyResult{}, fmt.Errorf("unhandled operation %T: %w", op, sentinel.ErrInvalidState)
		}
	}

	switch {
	case cs.Resolution.IsInsert():
		t := *cs.Resolution.Insert
		id, err := w.recipients.Insert(ctx, models.Record{
			ACI:           t.ACI,
			PNI:           t.PNI,
			E164:          t.E164,
			Registered:    !t.ACI.IsNil() || !t.PNI.IsNil(),
			StorageSyncID: uuid.New(),
		})
		if err != nil {
			return ApplyResult{}, fmt.Errorf("insert recipient: %w", err)
		}
		res.ID = id
		res.Outcome = OutcomeInserted
		affected[id] = struct{}{}
	case len(res.Retired) > 0:
		res.ID = cs.Resolution.Existing
		res.Outcome = OutcomeMerged
	default:
		res.ID = cs.Resolution.Existing
		if len(cs.Ops) == 0 {
			// A fully self-protected resolution degrades to a no-op; derived
			// state needs no refresh.
			res.Outcome = OutcomeMatched
		} else {
			res.Outcome = OutcomeUpdated
		}
	}

	for id := range affected {
		res.Affected = append(res.Affected, id)
	}
	return res, nil
}

// validate rejects change sets that violate apply-time invariants, before any
// state changes. Switchover notices are checked against the pre-apply session
// state because the operations themselves may move the record's identity
// anchor away from the session that justified the notice.
func (w *Writer) validate(ctx context.Context, cs resolve.ChangeSet) error {
	for _, op := range cs.Ops {
		switch o := op.(type) {
		case resolve.ChangeNumberInsert:
			if cs.Resolution.IsInsert() {
				return fmt.Errorf("number-change notice against a fresh insert: %w", sentinel.ErrInvalidState)
			}
			if o.ID.IsUnknown() {
				return fmt.Errorf("number-change notice without a record: %w", sentinel.ErrInvalidState)
			}
		case resolve.SessionSwitchoverInsert:
			rec, err := w.recipients.Get(ctx, o.ID)
			if err != nil {
				return fmt.Errorf("load record %d for switchover check: %w", o.ID, err)
			}
			has, err := w.sessions.HasActiveSession(ctx, rec.ServiceID())
			if err != nil {
				return fmt.Errorf("session check for %d: %w", o.ID, err)
			}
			if !has {
				count, _ := w.sessions.ActiveSessionCount(ctx)
				return fmt.Errorf(
					"switchover notice for %d without a live session (sid=%s e164=%s sessions=%d): %w",
					o.ID, rec.ServiceID(), rec.E164, count, sentinel.ErrInvalidState)
			}
			key, err := w.sessions.IdentityKey(ctx, rec.ServiceID())
			if err != nil {
				return fmt.Errorf("identity key for %d: %w", o.ID, err)
			}
			fp, err := session.Fingerprint(key)
			if err != nil {
				return fmt.Errorf("fingerprint identity key for %d: %w", o.ID, err)
			}
			w.logger.Info("session switchover pending",
				slog.Int64("recipient_id", int64(o.ID)),
				slog.String("old_identity", fp))
		}
	}
	return nil
}

// merge consolidates the secondary into the primary: sessions addressed by
// the secondary's number are dropped, its thread and messages fold into the
// primary's, its row is deleted to free the unique slots, and the remap
// ledger permanently records its fate. Returns whether a thread-merge notice
// was inserted.
func (w *Writer) merge(ctx context.Context, op resolve.Merge) (bool, error) {
	pri, err := w.recipients.Get(ctx, op.Primary)
	if err != nil {
		return false, fmt.Errorf("load merge primary %d: %w", op.Primary, err)
	}
	sec, err := w.recipients.Get(ctx, op.Secondary)
	if err != nil {
		return false, fmt.Errorf("load merge secondary %d: %w", op.Secondary, err)
	}

	if dropped, err := w.sessions.DeleteByE164(ctx, sec.E164); err != nil {
		return false, fmt.Errorf("drop sessions for %s: %w", sec.E164, err)
	} else if dropped > 0 {
		w.logger.Info("dropped sessions for merged number",
			slog.Int64("recipient_id", int64(sec.ID)),
			slog.Int64("dropped", dropped))
	}

	// A session keyed by the secondary's own anchor stops routing once an
	// account id owns the conversation.
	if sid := sec.ServiceID(); !sid.IsNil() && !pri.ACI.IsNil() && sid != pri.ServiceID() {
		if err := w.sessions.DeleteByServiceID(ctx, sid); err != nil {
			return false, fmt.Errorf("drop session for %s: %w", sid, err)
		}
	}

	threadRes, err := w.threads.Merge(ctx, op.Primary, op.Secondary)
	if err != nil {
		return false, fmt.Errorf("merge threads %d <- %d: %w", op.Primary, op.Secondary, err)
	}

	if _, err := w.messages.RewriteRecipient(ctx, op.Secondary, op.Primary); err != nil {
		return false, fmt.Errorf("rewrite messages %d -> %d: %w", op.Secondary, op.Primary, err)
	}

	// Delete before update so the secondary's identifiers stop occupying
	// unique slots the merged row is about to claim.
	if err := w.recipients.Delete(ctx, op.Secondary); err != nil {
		return false, fmt.Errorf("delete merged %d: %w", op.Secondary, err)
	}
	if err := w.recipients.Update(ctx, mergeRecords(pri, sec)); err != nil {
		return false, fmt.Errorf("update merge survivor %d: %w", op.Primary, err)
	}

	noticed := false
	if threadRes.NeededMerge {
		if err := w.messages.InsertThreadMergeNotice(ctx, threadRes.ThreadID, op.Primary, sec.E164); err != nil {
			return false, fmt.Errorf("thread-merge notice on %d: %w", op.Primary, err)
		}
		noticed = true
	}

	if err := w.ledger.Record(ctx, op.Secondary, op.Primary); err != nil {
		return false, fmt.Errorf("record remap %d -> %d: %w", op.Secondary, op.Primary, err)
	}

	w.metrics.IncMerge()
	w.logger.Info("merged recipients",
		slog.Int64("primary", int64(op.Primary)),
		slog.Int64("secondary", int64(op.Secondary)),
		slog.Bool("thread_merged", threadRes.NeededMerge))
	return noticed, nil
}

// mergeRecords combines the two rows into the surviving one. Identifiers the
// primary lacks are absorbed; booleans combine with or; scalar preferences
// keep the primary's value unless it is unset; capabilities take the
// per-field maximum; the storage sync id stays the primary's so remote state
// tracks the survivor.
func mergeRecords(pri, sec models.Record) models.Record {
	out := pri

	if out.ACI.IsNil() {
		out.ACI = sec.ACI
	}
	if out.PNI.IsNil() {
		out.PNI = sec.PNI
	}
	if out.E164.IsNil() {
		out.E164 = sec.E164
	}

	out.Registered = pri.Registered || sec.Registered
	out.Blocked = pri.Blocked || sec.Blocked
	out.ProfileSharing = pri.ProfileSharing || sec.ProfileSharing

	if out.MuteUntil.IsZero() {
		out.MuteUntil = sec.MuteUntil
	}
	if out.ChatColorID == 0 {
		out.ChatColorID = sec.ChatColorID
	}
	if out.NotifyChannel == "" {
		out.NotifyChannel = sec.NotifyChannel
	}
	if len(out.ProfileKey) == 0 {
		out.ProfileKey = sec.ProfileKey
	}
	if out.ProfileGivenName == "" && out.ProfileFamilyName == "" {
		out.ProfileGivenName = sec.ProfileGivenName
		out.ProfileFamilyName = sec.ProfileFamilyName
	}

	out.Capabilities = pri.Capabilities.Max(sec.Capabilities)
	return out
}
