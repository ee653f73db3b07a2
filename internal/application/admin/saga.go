package admin

import (
	"context"
	"fmt"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/extension"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Operation is an extension lifecycle operation
type Operation string

const (
	OpCreate Operation = "create"
	OpChange Operation = "change"
	OpDelete Operation = "delete"
	OpGet    Operation = "get"
)

// sagaState tracks a mutating call for logs and traces
type sagaState string

const (
	stateValidating   sagaState = "validating"
	statePersisted    sagaState = "persisted"
	stateExtending    sagaState = "extending"
	stateCommitted    sagaState = "committed"
	stateCompensating sagaState = "compensating"
	statePurged       sagaState = "purged"
)

type outcome string

const (
	outcomeApplied outcome = "applied"
	outcomeFailed  outcome = "failed"
	outcomeSkipped outcome = "skipped"
)

type ledgerEntry struct {
	handle  extension.Handle
	outcome outcome
	err     error
}

// ledger records what each extension did during one call. It is the only
// input of compensation and does not outlive the call.
type ledger struct {
	id      string
	op      Operation
	entries []ledgerEntry
}

func newLedger(op Operation) *ledger {
	return &ledger{id: uuid.NewString(), op: op}
}

func (l *ledger) record(h extension.Handle, o outcome, err error) {
	l.entries = append(l.entries, ledgerEntry{handle: h, outcome: o, err: err})
}

// applied returns the handles that succeeded, in the order they succeeded
func (l *ledger) applied() []extension.Handle {
	var out []extension.Handle
	for _, e := range l.entries {
		if e.outcome == outcomeApplied {
			out = append(out, e.handle)
		}
	}
	return out
}

// failures combines every recorded extension error
func (l *ledger) failures() error {
	var err error
	for _, e := range l.entries {
		if e.outcome == outcomeFailed {
			err = multierr.Append(err, e.err)
		}
	}
	return err
}

func (l *ledger) count(o outcome) int {
	n := 0
	for _, e := range l.entries {
		if e.outcome == o {
			n++
		}
	}
	return n
}

// chainExecutor runs the registered extensions for one operation, strictly
// sequentially and in registration order
type chainExecutor struct {
	registry *extension.Registry
	metrics  *telemetry.AdminMetrics
	logger   *zap.Logger
}

// run invokes every applicable extension. With failFast it stops at the first
// failure; otherwise it runs them all and returns the combined failures.
func (x *chainExecutor) run(
	ctx context.Context,
	op Operation,
	tenant *tenancy.Tenant,
	e directory.Entity,
	creds tenancy.Credentials,
	failFast bool,
) (*ledger, error) {
	l := newLedger(op)
	span := trace.SpanFromContext(ctx)

	for _, h := range x.registry.Handlers(e.Kind()) {
		if !h.AppliesTo(tenant, e) {
			l.record(h, outcomeSkipped, nil)
			x.logger.Debug("Extension skipped for tenant administrator",
				zap.String("extension", h.Name),
				zap.String("operation", string(op)))
			continue
		}

		telemetry.AddEvent(span, "extension."+string(op), "extension", h.Name, "state", string(stateExtending))

		if err := invoke(ctx, h, op, tenant, e, creds); err != nil {
			l.record(h, outcomeFailed, err)
			x.metrics.RecordExtensionFailure(ctx, h.Name, string(op))
			x.logger.Warn("Extension failed",
				zap.String("ledger_id", l.id),
				zap.String("extension", h.Name),
				zap.String("operation", string(op)),
				zap.Stringer("entity", directory.RefOf(e)),
				zap.Error(err))
			if failFast {
				return l, err
			}
			continue
		}
		l.record(h, outcomeApplied, nil)
	}

	return l, l.failures()
}

// invoke calls one extension, turning a panic into an error
func invoke(
	ctx context.Context,
	h extension.Handle,
	op Operation,
	tenant *tenancy.Tenant,
	e directory.Entity,
	creds tenancy.Credentials,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extension %s: panic during %s: %v", h.Name, op, r)
		}
	}()

	switch op {
	case OpCreate:
		err = h.Extension.Create(ctx, tenant, e, creds)
	case OpChange:
		err = h.Extension.Change(ctx, tenant, e, creds)
	case OpDelete:
		err = h.Extension.Delete(ctx, tenant, e, creds)
	case OpGet:
		err = h.Extension.Get(ctx, tenant, e, creds)
	default:
		return fmt.Errorf("extension %s: unknown operation %q", h.Name, op)
	}
	if err != nil {
		return fmt.Errorf("extension %s: %w", h.Name, err)
	}
	return nil
}

// compensator undoes a failed create
type compensator struct {
	store   directory.Store
	metrics *telemetry.AdminMetrics
	logger  *zap.Logger
}

// compensateCreate deletes the effects of every applied extension in the order
// they were applied, then removes the core record. Failures of these steps are
// logged and never returned, so the original error reaches the caller.
func (c *compensator) compensateCreate(
	ctx context.Context,
	tenant *tenancy.Tenant,
	e directory.Entity,
	creds tenancy.Credentials,
	l *ledger,
) {
	span := trace.SpanFromContext(ctx)
	ref := directory.RefOf(e)

	for _, h := range l.applied() {
		telemetry.AddEvent(span, "compensate", "extension", h.Name, "state", string(stateCompensating))

		err := invoke(ctx, h, OpDelete, tenant, e, creds)
		c.metrics.RecordCompensation(ctx, h.Name, err == nil)
		if err != nil {
			c.logger.Error("Compensating delete failed",
				zap.String("ledger_id", l.id),
				zap.String("extension", h.Name),
				zap.Stringer("entity", ref),
				zap.Error(err))
		}
	}

	err := c.store.Delete(ctx, tenant.ID, ref)
	c.metrics.RecordCompensation(ctx, "core", err == nil)
	if err != nil {
		c.logger.Error("Failed to remove core record during compensation",
			zap.String("ledger_id", l.id),
			zap.Stringer("entity", ref),
			zap.Error(err))
		return
	}

	telemetry.AddEvent(span, "purged", "state", string(statePurged))
	c.logger.Info("Create rolled back",
		zap.String("ledger_id", l.id),
		zap.Stringer("entity", ref),
		zap.Int("compensated", l.count(outcomeApplied)))
}
