package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/extension"
	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SchemaChecker reports whether the database schema is usable
type SchemaChecker interface {
	Check(ctx context.Context) error
}

// SecretHasher hashes account secrets before they are stored
type SecretHasher interface {
	Hash(secret string) (string, error)
}

// ServiceDeps holds the collaborators of the admin service
type ServiceDeps struct {
	Gate      *Gate
	Validator *Validator
	Store     directory.Store
	Tenants   tenancy.TenantRepository
	Registry  *extension.Registry
	Hasher    SecretHasher
	Cache     directory.EntityCache
	Schema    SchemaChecker
	Metrics   *telemetry.AdminMetrics
	Logger    *zap.Logger
}

// Service runs administrative operations as sagas: authenticate, validate,
// persist, extend, then either commit and invalidate caches or compensate.
type Service struct {
	gate        *Gate
	validator   *Validator
	store       directory.Store
	tenants     tenancy.TenantRepository
	hasher      SecretHasher
	cache       directory.EntityCache
	schema      SchemaChecker
	chain       *chainExecutor
	compensator *compensator
	broadcaster *Broadcaster
	metrics     *telemetry.AdminMetrics
	logger      *zap.Logger
}

// NewService creates the admin service
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = extension.NewRegistry()
	}

	return &Service{
		gate:      deps.Gate,
		validator: deps.Validator,
		store:     deps.Store,
		tenants:   deps.Tenants,
		hasher:    deps.Hasher,
		cache:     deps.Cache,
		schema:    deps.Schema,
		chain: &chainExecutor{
			registry: registry,
			metrics:  deps.Metrics,
			logger:   logger,
		},
		compensator: &compensator{
			store:   deps.Store,
			metrics: deps.Metrics,
			logger:  logger,
		},
		broadcaster: NewBroadcaster(deps.Cache, deps.Metrics, logger),
		metrics:     deps.Metrics,
		logger:      logger,
	}
}

// Create persists a new entity and runs the extension chain. If any
// extension fails, applied extensions are compensated, the core record is
// removed and a StorageFailure is returned without the entity.
func (s *Service) Create(ctx context.Context, tenantID int64, e directory.Entity, creds tenancy.Credentials) (directory.Entity, error) {
	if e == nil {
		return nil, shared.InvalidData("entity", "required")
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "admin", "create",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrEntityKind, string(e.Kind())))
	defer span.End()
	start := time.Now()

	out, err := s.create(ctx, tenantID, e, creds)
	s.finish(ctx, span, e.Kind(), OpCreate, start, err)
	return out, err
}

func (s *Service) create(ctx context.Context, tenantID int64, e directory.Entity, creds tenancy.Credentials) (directory.Entity, error) {
	sess, err := s.authenticate(ctx, tenantID, creds)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	if err := s.checkSchema(ctx); err != nil {
		return nil, err
	}
	tenant := sess.Tenant
	kind := e.Kind()

	if e.EntityID() != 0 {
		return nil, shared.InvalidData("id", "assigned on create")
	}
	if err := s.validator.Validate(ctx, tenant, e, ModeCreate); err != nil {
		return nil, err
	}

	ent := directory.Clone(e)
	if err := s.prepare(tenant, ent); err != nil {
		return nil, err
	}

	id, err := s.store.Create(ctx, tenant.ID, ent)
	if err != nil {
		return nil, storeError("create "+string(kind), directory.RefOf(ent), err)
	}
	ent.SetEntityID(id)
	s.trace(ctx, statePersisted, ent)

	l, err := s.chain.run(ctx, OpCreate, tenant, ent, creds, true)
	if err != nil {
		s.trace(ctx, stateCompensating, ent)
		s.compensator.compensateCreate(ctx, tenant, ent, creds, l)
		return nil, shared.StorageFailure("create "+string(kind), err)
	}

	s.broadcaster.Invalidate(ctx, Invalidation{
		TenantID: tenant.ID,
		Kind:     kind,
		ID:       id,
		Names:    []string{ent.EntityName()},
		Related:  s.named(ctx, tenant.ID, related(ent)),
	})
	s.trace(ctx, stateCommitted, ent)

	s.logger.Info("Entity created",
		zap.Int64("tenant_id", tenant.ID),
		zap.String("kind", string(kind)),
		zap.Int64("id", id),
		zap.String("name", ent.EntityName()),
		zap.String("ledger_id", l.id))
	return ent, nil
}

// Change updates the core record and runs the extension chain. The first
// extension failure is reported; the core change stays committed.
func (s *Service) Change(ctx context.Context, tenantID int64, e directory.Entity, creds tenancy.Credentials) (directory.Entity, error) {
	if e == nil {
		return nil, shared.InvalidData("entity", "required")
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "admin", "change",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrEntityKind, string(e.Kind())))
	defer span.End()
	start := time.Now()

	out, err := s.change(ctx, tenantID, e, creds)
	s.finish(ctx, span, e.Kind(), OpChange, start, err)
	return out, err
}

func (s *Service) change(ctx context.Context, tenantID int64, e directory.Entity, creds tenancy.Credentials) (directory.Entity, error) {
	sess, err := s.authenticate(ctx, tenantID, creds)
	if err != nil {
		return nil, err
	}
	if err := s.checkSchema(ctx); err != nil {
		return nil, err
	}
	tenant := sess.Tenant
	kind := e.Kind()

	ref, err := s.validator.Resolve(ctx, tenant, directory.RefOf(e))
	if err != nil {
		return nil, err
	}
	if err := requireSelfOrAdmin(sess, ref); err != nil {
		return nil, err
	}

	prev, err := s.store.Get(ctx, tenant.ID, directory.ByID(kind, ref.ID))
	if err != nil {
		return nil, storeError("change "+string(kind), ref, err)
	}

	ent := directory.Clone(e)
	ent.SetEntityID(ref.ID)
	if ent.EntityName() == "" {
		ent.SetEntityName(ref.Name)
	}
	// Members are validated on what will actually be stored
	if !sess.Principal.IsAdmin() {
		restrictMemberChange(ent, prev)
	}

	if err := s.validator.Validate(ctx, tenant, ent, ModeChange); err != nil {
		return nil, err
	}
	if err := s.prepare(tenant, ent); err != nil {
		return nil, err
	}
	if err := s.store.Change(ctx, tenant.ID, ent); err != nil {
		return nil, storeError("change "+string(kind), ref, err)
	}
	s.trace(ctx, statePersisted, ent)

	var failure error
	if acct, ok := ent.(*directory.Account); ok {
		failure = s.afterAccountChange(ctx, tenant, acct)
	}

	l, err := s.chain.run(ctx, OpChange, tenant, ent, creds, true)
	failure = multierr.Append(failure, err)

	// The core change is durable whatever the extensions did
	s.broadcaster.Invalidate(ctx, Invalidation{
		TenantID: tenant.ID,
		Kind:     kind,
		ID:       ref.ID,
		Names:    []string{prev.EntityName(), ent.EntityName()},
		Related:  s.named(ctx, tenant.ID, append(related(prev), related(ent)...)),
	})

	if failure != nil {
		return nil, shared.StorageFailure("change "+string(kind), failure)
	}
	s.trace(ctx, stateCommitted, ent)

	s.logger.Info("Entity changed",
		zap.Int64("tenant_id", tenant.ID),
		zap.String("kind", string(kind)),
		zap.Int64("id", ref.ID),
		zap.String("ledger_id", l.id))
	return ent, nil
}

// afterAccountChange keeps the tenant administrator identity in sync and
// drops cached administrator authentications
func (s *Service) afterAccountChange(ctx context.Context, tenant *tenancy.Tenant, acct *directory.Account) error {
	defer s.gate.RemoveFromAuthCache(ctx, tenant.ID)

	if !tenant.IsAdminAccount(acct.ID) {
		return nil
	}

	hash := acct.SecretHash
	if hash == "" {
		hash = tenant.AdminSecretHash
	}
	if err := s.tenants.UpdateAdmin(ctx, tenant.ID, acct.Name, hash, acct.ID); err != nil {
		s.logger.Error("Failed to update tenant administrator",
			zap.Int64("tenant_id", tenant.ID),
			zap.Int64("account_id", acct.ID),
			zap.Error(err))
		return fmt.Errorf("update tenant administrator: %w", err)
	}
	return nil
}

// Delete removes one or more entities. Every applicable extension runs for
// each entity and all failures are collected; the core record is removed
// regardless. Any failure yields one StorageFailure naming all of them.
func (s *Service) Delete(ctx context.Context, tenantID int64, refs []directory.Ref, creds tenancy.Credentials) error {
	if len(refs) == 0 {
		return shared.InvalidData("refs", "required")
	}
	kind := refs[0].Kind

	ctx, span := telemetry.StartServiceSpan(ctx, "admin", "delete",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrEntityKind, string(kind)))
	defer span.End()
	start := time.Now()

	err := s.delete(ctx, tenantID, refs, creds)
	s.finish(ctx, span, kind, OpDelete, start, err)
	return err
}

func (s *Service) delete(ctx context.Context, tenantID int64, refs []directory.Ref, creds tenancy.Credentials) error {
	sess, err := s.authenticate(ctx, tenantID, creds)
	if err != nil {
		return err
	}
	if err := requireAdmin(sess); err != nil {
		return err
	}
	if err := s.checkSchema(ctx); err != nil {
		return err
	}
	tenant := sess.Tenant

	resolved := make([]directory.Ref, 0, len(refs))
	for _, ref := range refs {
		r, err := s.validator.Resolve(ctx, tenant, ref)
		if err != nil {
			return err
		}
		if r.Kind == directory.KindAccount && tenant.IsAdminAccount(r.ID) {
			return shared.InvalidData("id", "the tenant administrator cannot be deleted")
		}
		resolved = append(resolved, r)
	}

	var errs error
	for _, ref := range resolved {
		errs = multierr.Append(errs, s.deleteOne(ctx, tenant, ref, creds))
	}
	if errs != nil {
		return shared.StorageFailure("delete "+string(refs[0].Kind), errs)
	}
	return nil
}

func (s *Service) deleteOne(ctx context.Context, tenant *tenancy.Tenant, ref directory.Ref, creds tenancy.Credentials) error {
	ent, err := s.store.Get(ctx, tenant.ID, ref)
	if err != nil {
		return fmt.Errorf("load %s: %w", ref, err)
	}

	l, extErr := s.chain.run(ctx, OpDelete, tenant, ent, creds, false)

	if err := s.store.Delete(ctx, tenant.ID, ref); err != nil {
		s.logger.Error("Failed to delete core record",
			zap.Int64("tenant_id", tenant.ID),
			zap.Stringer("entity", ref),
			zap.Error(err))
		return multierr.Append(extErr, fmt.Errorf("core %s: %w", ref, err))
	}

	s.broadcaster.Invalidate(ctx, Invalidation{
		TenantID: tenant.ID,
		Kind:     ref.Kind,
		ID:       ref.ID,
		Names:    []string{ref.Name, ent.EntityName()},
		Related:  s.named(ctx, tenant.ID, related(ent)),
	})
	if ref.Kind == directory.KindAccount {
		s.gate.RemoveFromAuthCache(ctx, tenant.ID)
	}

	s.logger.Info("Entity deleted",
		zap.Int64("tenant_id", tenant.ID),
		zap.Stringer("entity", ref),
		zap.String("ledger_id", l.id),
		zap.Int("extension_failures", l.count(outcomeFailed)))
	return extErr
}

// Get loads an entity by ID or name through the identity cache and lets
// the extensions augment the returned copy
func (s *Service) Get(ctx context.Context, tenantID int64, ref directory.Ref, creds tenancy.Credentials) (directory.Entity, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "admin", "get",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrEntityKind, string(ref.Kind)))
	defer span.End()
	start := time.Now()

	out, err := s.get(ctx, tenantID, ref, creds)
	s.finish(ctx, span, ref.Kind, OpGet, start, err)
	return out, err
}

func (s *Service) get(ctx context.Context, tenantID int64, ref directory.Ref, creds tenancy.Credentials) (directory.Entity, error) {
	sess, err := s.authenticate(ctx, tenantID, creds)
	if err != nil {
		return nil, err
	}
	if ref.IsZero() {
		return nil, shared.InvalidData("id", "either id or name is required")
	}
	if !sess.Principal.IsAdmin() && ref.Kind != directory.KindAccount {
		return nil, shared.InvalidCredentials(errors.New("members may only read their own account"))
	}

	ent, err := s.load(ctx, sess.Tenant.ID, ref)
	if err != nil {
		return nil, err
	}
	if err := requireSelfOrAdmin(sess, directory.RefOf(ent)); err != nil {
		return nil, err
	}

	out := directory.Clone(ent)
	if _, err := s.chain.run(ctx, OpGet, sess.Tenant, out, creds, true); err != nil {
		return nil, shared.StorageFailure("get "+string(ref.Kind), err)
	}
	return out, nil
}

// List returns one page of entities of a kind
func (s *Service) List(ctx context.Context, tenantID int64, kind directory.Kind, filter shared.Filter, creds tenancy.Credentials) (shared.Paginated[directory.Entity], error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "admin", "list",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrEntityKind, string(kind)))
	defer span.End()
	start := time.Now()

	out, err := s.list(ctx, tenantID, kind, filter, creds)
	s.finish(ctx, span, kind, "list", start, err)
	return out, err
}

func (s *Service) list(ctx context.Context, tenantID int64, kind directory.Kind, filter shared.Filter, creds tenancy.Credentials) (shared.Paginated[directory.Entity], error) {
	var empty shared.Paginated[directory.Entity]

	sess, err := s.authenticate(ctx, tenantID, creds)
	if err != nil {
		return empty, err
	}
	if err := requireAdmin(sess); err != nil {
		return empty, err
	}

	items, total, err := s.store.List(ctx, sess.Tenant.ID, kind, filter)
	if err != nil {
		return empty, shared.StorageFailure("list "+string(kind), err)
	}
	return shared.NewPaginated(items, total, filter.Page, filter.Limit()), nil
}

func (s *Service) authenticate(ctx context.Context, tenantID int64, creds tenancy.Credentials) (*Session, error) {
	sess, err := s.gate.AuthenticateTenant(ctx, creds, tenantID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(zap.Int64("tenant_id", tenantID), zap.String("role", string(sess.Principal.Role)))
	logger.Debug("Caller authenticated", zap.String("state", string(stateValidating)))
	return sess, nil
}

func requireAdmin(sess *Session) error {
	if !sess.Principal.IsAdmin() {
		return shared.InvalidCredentials(errors.New("administrator required"))
	}
	return nil
}

// requireSelfOrAdmin lets members act on their own account only
func requireSelfOrAdmin(sess *Session, ref directory.Ref) error {
	if sess.Principal.IsAdmin() {
		return nil
	}
	if ref.Kind == directory.KindAccount && ref.ID != 0 && ref.ID == sess.Principal.AccountID {
		return nil
	}
	return shared.InvalidCredentials(errors.New("members may only act on their own account"))
}

// restrictMemberChange keeps the fields a member may not change on their own account
func restrictMemberChange(ent, prev directory.Entity) {
	a, ok := ent.(*directory.Account)
	p, okPrev := prev.(*directory.Account)
	if !ok || !okPrev {
		return
	}
	a.Name = p.Name
	a.GroupIDs = append([]int64(nil), p.GroupIDs...)
}

func (s *Service) checkSchema(ctx context.Context) error {
	if s.schema == nil {
		return nil
	}
	if err := s.schema.Check(ctx); err != nil {
		return shared.AsFailure("check schema", err)
	}
	return nil
}

// prepare replaces an inbound account secret by its hash and derives the login key
func (s *Service) prepare(tenant *tenancy.Tenant, e directory.Entity) error {
	a, ok := e.(*directory.Account)
	if !ok {
		return nil
	}
	a.LoginKey = tenancy.NormalizeLogin(a.Name, tenant.LowercaseLogins)
	if a.Secret == "" {
		return nil
	}
	hash, err := s.hasher.Hash(a.Secret)
	if err != nil {
		return shared.InvalidData("password", err.Error())
	}
	a.SecretHash = hash
	a.Secret = ""
	return nil
}

// load reads an entity through the identity cache, populating it on a miss
func (s *Service) load(ctx context.Context, tenantID int64, ref directory.Ref) (directory.Entity, error) {
	region, key := directory.RegionIdentityByID, directory.IDKey(tenantID, ref.Kind, ref.ID)
	if ref.ID == 0 {
		region, key = directory.RegionIdentityByName, directory.NameKey(tenantID, ref.Kind, ref.Name)
	}

	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, region, key)
		if err != nil {
			s.logger.Warn("Cache read failed", zap.String("region", string(region)), zap.Error(err))
		}
		if ok {
			ent, err := decodeEntity(ref.Kind, data)
			if err == nil {
				return ent, nil
			}
			s.logger.Warn("Discarding undecodable cache entry", zap.Stringer("key", key), zap.Error(err))
		}
	}

	ent, err := s.store.Get(ctx, tenantID, ref)
	if err != nil {
		return nil, storeError("get "+string(ref.Kind), ref, err)
	}
	s.remember(ctx, tenantID, ent)
	return ent, nil
}

type cacheEntry struct {
	region directory.CacheRegion
	key    directory.CacheKey
	value  []byte
}

// remember populates the identity regions and the projections derived from them
func (s *Service) remember(ctx context.Context, tenantID int64, e directory.Entity) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("Failed to encode entity for cache", zap.Error(err))
		return
	}

	idKey := directory.IDKey(tenantID, e.Kind(), e.EntityID())
	entries := []cacheEntry{
		{directory.RegionIdentityByID, idKey, data},
		{directory.RegionIdentityByName, directory.NameKey(tenantID, e.Kind(), e.EntityName()), data},
	}
	if a, ok := e.(*directory.Account); ok {
		if groups, err := json.Marshal(a.GroupIDs); err == nil {
			entries = append(entries, cacheEntry{directory.RegionPermissions, idKey, groups})
		}
	}
	if addrs := directory.Addresses(e); len(addrs) > 0 {
		if encoded, err := json.Marshal(addrs); err == nil {
			entries = append(entries, cacheEntry{directory.RegionMail, idKey, encoded})
		}
	}

	for _, entry := range entries {
		if err := s.cache.Set(ctx, entry.region, entry.key, entry.value); err != nil {
			s.logger.Warn("Cache write failed", zap.String("region", string(entry.region)), zap.Error(err))
		}
	}
}

func decodeEntity(kind directory.Kind, data []byte) (directory.Entity, error) {
	e, err := directory.New(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, err
	}
	return e, nil
}

// related returns the entities whose cached projections embed e
func related(e directory.Entity) []directory.Ref {
	var out []directory.Ref
	switch v := e.(type) {
	case *directory.Account:
		for _, id := range v.GroupIDs {
			out = append(out, directory.ByID(directory.KindGroup, id))
		}
	case *directory.Group:
		for _, id := range v.Members {
			out = append(out, directory.ByID(directory.KindAccount, id))
		}
	}
	return out
}

// named fills in the names of related refs so their by-name entries are
// cleared as well. A ref whose name cannot be resolved keeps only its ID.
func (s *Service) named(ctx context.Context, tenantID int64, refs []directory.Ref) []directory.Ref {
	type ident struct {
		kind directory.Kind
		id   int64
	}
	seen := make(map[ident]bool, len(refs))
	out := make([]directory.Ref, 0, len(refs))
	for _, r := range refs {
		if seen[ident{r.Kind, r.ID}] {
			continue
		}
		seen[ident{r.Kind, r.ID}] = true
		if r.Name == "" && r.ID != 0 {
			name, err := s.store.ResolveName(ctx, tenantID, r.Kind, r.ID)
			if err != nil {
				s.logger.Warn("Related entity name unresolved",
					zap.Int64("tenant_id", tenantID),
					zap.Stringer("entity", r),
					zap.Error(err))
			}
			r.Name = name
		}
		out = append(out, r)
	}
	return out
}

// storeError maps a storage error to a failure
func storeError(op string, ref directory.Ref, err error) error {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return shared.NoSuchEntity(ref)
	case errors.Is(err, shared.ErrAlreadyExists):
		return shared.EntityExists(ref.String())
	}
	return shared.AsFailure(op, err)
}

func (s *Service) trace(ctx context.Context, state sagaState, e directory.Entity) {
	span := trace.SpanFromContext(ctx)
	telemetry.AddEvent(span, string(state), telemetry.SpanAttrEntityID, e.EntityID())
	s.logger.Debug("Saga state",
		zap.String("state", string(state)),
		zap.Stringer("entity", directory.RefOf(e)))
}

func (s *Service) finish(ctx context.Context, span trace.Span, kind directory.Kind, op Operation, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(shared.KindOf(err))
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetOK(span)
	}
	s.metrics.RecordOperation(ctx, string(kind), string(op), outcome, time.Since(start))
}
