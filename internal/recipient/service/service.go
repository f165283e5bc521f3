package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rolodex/internal/recipient/metrics"
	"rolodex/internal/recipient/models"
	"rolodex/internal/recipient/remap"
	"rolodex/internal/recipient/resolve"
	"rolodex/internal/recipient/store"
	"rolodex/internal/session"
	"rolodex/pkg/domain"
	"rolodex/pkg/platform/sentinel"
	txpkg "rolodex/pkg/platform/tx"
)

// conflictAttempts bounds retries after a unique-constraint conflict. A
// conflict means a concurrent resolution changed ownership between our reads
// and our writes; rereading almost always succeeds on the second try.
const conflictAttempts = 3

// Result is what a resolution call returns to transports.
type Result struct {
	ID      domain.RecipientID
	Outcome Outcome
	Retired []domain.RecipientID
	Trace   []resolve.Trace
}

// Request is an externally-sourced identifier observation.
type Request struct {
	E164        domain.E164
	PNI         domain.PNI
	ACI         domain.ACI
	PNIVerified bool
	ChangeSelf  bool
}

// Orchestrator drives resolution: a read-only fast path, then a transactional
// resolve-and-apply slow path with bounded conflict retries, then post-commit
// hooks for caches and schedulers.
type Orchestrator struct {
	recipients store.Store
	sessions   session.Store
	writer     *Writer
	ledger     remap.Ledger
	runner     txpkg.Runner
	self       resolve.Self
	hooks      []Hook
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

func NewOrchestrator(
	recipients store.Store,
	sessions session.Store,
	writer *Writer,
	ledger remap.Ledger,
	runner txpkg.Runner,
	self resolve.Self,
	logger *slog.Logger,
	m *metrics.Metrics,
	hooks ...Hook,
) *Orchestrator {
	return &Orchestrator{
		recipients: recipients,
		sessions:   sessions,
		writer:     writer,
		ledger:     ledger,
		runner:     runner,
		self:       self,
		hooks:      hooks,
		logger:     logger,
		metrics:    m,
		tracer:     otel.Tracer("rolodex/recipient"),
	}
}

// Resolve maps an identifier tuple onto the recipient table and returns the
// surviving record's id.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "recipient.resolve")
	defer span.End()

	rreq := resolve.Request{
		E164:        req.E164,
		PNI:         req.PNI,
		ACI:         req.ACI,
		PNIVerified: req.PNIVerified,
		ChangeSelf:  req.ChangeSelf,
		Self:        o.self,
	}
	tuple := rreq.Tuple()
	if !tuple.HasAny() {
		return Result{}, resolve.ErrNoIdentifiers
	}

	// Fast path: a record already carrying every present field needs no
	// transaction and no writes. Misses fall through to the slow path, which
	// rechecks under the transaction.
	if id, err := o.recipients.FindMatching(ctx, tuple); err == nil {
		span.SetAttributes(attribute.String("outcome", string(OutcomeMatched)))
		o.metrics.ObserveResolve(string(OutcomeMatched), time.Since(start))
		return Result{ID: id, Outcome: OutcomeMatched, Trace: []resolve.Trace{resolve.TraceFullMatch}}, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return Result{}, fmt.Errorf("fast-path lookup: %w", err)
	}

	var (
		res Result
		err error
	)
	for attempt := 1; ; attempt++ {
		res, err = o.resolveInTx(ctx, rreq)
		if err == nil {
			break
		}
		if errors.Is(err, sentinel.ErrConflict) && attempt < conflictAttempts {
			o.metrics.IncConflictRetry()
			o.logger.Warn("resolution conflicted, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}
		return Result{}, err
	}

	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.Int64("recipient_id", int64(res.ID)),
	)
	o.metrics.ObserveResolve(string(res.Outcome), time.Since(start))
	return res, nil
}

// resolveInTx performs one attempt: read the relevant rows and session state,
// run the pure resolver, apply the change set. Post-commit hooks run only
// after the transaction function returned without error.
func (o *Orchestrator) resolveInTx(ctx context.Context, rreq resolve.Request) (Result, error) {
	var (
		applied ApplyResult
		traced  []resolve.Trace
	)
	err := o.runner.InTx(ctx, func(ctx context.Context) error {
		snap, err := o.loadSnapshot(ctx, rreq)
		if err != nil {
			return err
		}
		oracle, err := o.loadOracle(ctx, snap, rreq)
		if err != nil {
			return err
		}

		cs, err := resolve.Resolve(snap, oracle, rreq)
		if err != nil {
			return err
		}
		traced = cs.Trace

		applied, err = o.writer.Apply(ctx, cs)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{ID: applied.ID, Outcome: applied.Outcome, Retired: applied.Retired, Trace: traced}
	o.runHooks(ctx, Event{Result: res, Affected: applied.Affected})
	return res, nil
}

// loadSnapshot does the up-to-three point lookups backing one resolution.
func (o *Orchestrator) loadSnapshot(ctx context.Context, rreq resolve.Request) (*resolve.Snapshot, error) {
	var records []models.Record
	if !rreq.E164.IsNil() {
		rec, err := o.recipients.ByE164(ctx, rreq.E164)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("lookup by e164: %w", err)
		} else if err == nil {
			records = append(records, rec)
		}
	}
	if !rreq.PNI.IsNil() {
		rec, err := o.recipients.ByPNI(ctx, rreq.PNI)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("lookup by pni: %w", err)
		} else if err == nil {
			records = append(records, rec)
		}
	}
	if !rreq.ACI.IsNil() {
		rec, err := o.recipients.ByACI(ctx, rreq.ACI)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("lookup by aci: %w", err)
		} else if err == nil {
			records = append(records, rec)
		}
	}
	return resolve.NewSnapshot(records...), nil
}

// loadOracle captures session state for every service id resolution could
// consult: the request's own identifiers plus the anchors of each matched
// record.
func (o *Orchestrator) loadOracle(ctx context.Context, snap *resolve.Snapshot, rreq resolve.Request) (resolve.OracleView, error) {
	view := resolve.OracleView{
		Sessions: make(map[domain.ServiceID]bool),
		Keys:     make(map[domain.ServiceID][]byte),
	}

	candidates := make(map[domain.ServiceID]struct{})
	if !rreq.ACI.IsNil() {
		candidates[domain.ServiceIDFromACI(rreq.ACI)] = struct{}{}
	}
	if !rreq.PNI.IsNil() {
		candidates[domain.ServiceIDFromPNI(rreq.PNI)] = struct{}{}
	}
	for _, lookup := range []func() (models.Record, bool){
		func() (models.Record, bool) { return snap.ByE164(rreq.E164) },
		func() (models.Record, bool) { return snap.ByPNI(rreq.PNI) },
		func() (models.Record, bool) { return snap.ByACI(rreq.ACI) },
	} {
		rec, ok := lookup()
		if !ok {
			continue
		}
		if !rec.ACI.IsNil() {
			candidates[domain.ServiceIDFromACI(rec.ACI)] = struct{}{}
		}
		if !rec.PNI.IsNil() {
			candidates[domain.ServiceIDFromPNI(rec.PNI)] = struct{}{}
		}
	}

	for sid := range candidates {
		has, err := o.sessions.HasActiveSession(ctx, sid)
		if err != nil {
			return resolve.OracleView{}, fmt.Errorf("session lookup for %s: %w", sid, err)
		}
		view.Sessions[sid] = has
		if !has {
			continue
		}
		key, err := o.sessions.IdentityKey(ctx, sid)
		if err != nil {
			return resolve.OracleView{}, fmt.Errorf("identity key lookup for %s: %w", sid, err)
		}
		view.Keys[sid] = key
	}
	return view, nil
}

// Lookup returns the record for an id, following the remap ledger when the
// id was retired by a merge.
func (o *Orchestrator) Lookup(ctx context.Context, id domain.RecipientID) (models.Record, error) {
	rec, err := o.recipients.Get(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return models.Record{}, err
	}

	survivor, lerr := o.ledger.Resolve(ctx, id)
	if lerr != nil {
		return models.Record{}, sentinel.ErrNotFound
	}
	return o.recipients.Get(ctx, survivor)
}
