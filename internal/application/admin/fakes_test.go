package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/domain/tenancy"
)

// membership is one row of the group/account relation
type membership struct{ group, account int64 }

// memStore is an in-memory directory.Store that counts mutations. Like the
// SQL store it keeps group membership in one relation, so both sides of a
// membership are derived from it on read.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	entities map[int64]map[int64]directory.Entity // tenant -> id -> entity
	members  map[int64]map[membership]bool

	creates, changes, deletes int
	failDelete                error
}

func newMemStore() *memStore {
	return &memStore{
		entities: make(map[int64]map[int64]directory.Entity),
		members:  make(map[int64]map[membership]bool),
	}
}

// link rewrites the memberships on the side of the relation e owns
func (m *memStore) link(tenantID int64, e directory.Entity) {
	rel, ok := m.members[tenantID]
	if !ok {
		rel = make(map[membership]bool)
		m.members[tenantID] = rel
	}
	switch v := e.(type) {
	case *directory.Account:
		for row := range rel {
			if row.account == v.ID {
				delete(rel, row)
			}
		}
		for _, g := range v.GroupIDs {
			rel[membership{group: g, account: v.ID}] = true
		}
	case *directory.Group:
		for row := range rel {
			if row.group == v.ID {
				delete(rel, row)
			}
		}
		for _, a := range v.Members {
			rel[membership{group: v.ID, account: a}] = true
		}
	}
}

func (m *memStore) unlink(tenantID int64, e directory.Entity) {
	for row := range m.members[tenantID] {
		switch e.Kind() {
		case directory.KindAccount:
			if row.account != e.EntityID() {
				continue
			}
		case directory.KindGroup:
			if row.group != e.EntityID() {
				continue
			}
		default:
			continue
		}
		delete(m.members[tenantID], row)
	}
}

// hydrate returns a copy of e with memberships read from the relation
func (m *memStore) hydrate(tenantID int64, e directory.Entity) directory.Entity {
	c := directory.Clone(e)
	switch v := c.(type) {
	case *directory.Account:
		v.GroupIDs = nil
		for row := range m.members[tenantID] {
			if row.account == v.ID {
				v.GroupIDs = append(v.GroupIDs, row.group)
			}
		}
		sort.Slice(v.GroupIDs, func(i, j int) bool { return v.GroupIDs[i] < v.GroupIDs[j] })
	case *directory.Group:
		v.Members = nil
		for row := range m.members[tenantID] {
			if row.group == v.ID {
				v.Members = append(v.Members, row.account)
			}
		}
		sort.Slice(v.Members, func(i, j int) bool { return v.Members[i] < v.Members[j] })
	}
	return c
}

func (m *memStore) tenant(tenantID int64) map[int64]directory.Entity {
	t, ok := m.entities[tenantID]
	if !ok {
		t = make(map[int64]directory.Entity)
		m.entities[tenantID] = t
	}
	return t
}

func (m *memStore) find(tenantID int64, ref directory.Ref) (directory.Entity, bool) {
	for id, e := range m.tenant(tenantID) {
		if e.Kind() != ref.Kind {
			continue
		}
		if (ref.ID != 0 && id == ref.ID) || (ref.ID == 0 && e.EntityName() == ref.Name) {
			return e, true
		}
	}
	return nil, false
}

func (m *memStore) mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates + m.changes + m.deletes
}

func (m *memStore) Exists(_ context.Context, tenantID int64, ref directory.Ref) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.find(tenantID, ref)
	return ok, nil
}

func (m *memStore) Create(_ context.Context, tenantID int64, e directory.Entity) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if _, ok := m.find(tenantID, directory.ByName(e.Kind(), e.EntityName())); ok {
		return 0, shared.ErrAlreadyExists
	}
	m.nextID++
	c := directory.Clone(e)
	c.SetEntityID(m.nextID)
	m.tenant(tenantID)[m.nextID] = c
	m.link(tenantID, c)
	return m.nextID, nil
}

func (m *memStore) Change(_ context.Context, tenantID int64, e directory.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes++
	prev, ok := m.tenant(tenantID)[e.EntityID()]
	if !ok {
		return shared.ErrNotFound
	}
	c := directory.Clone(e)
	if a, ok := c.(*directory.Account); ok && a.SecretHash == "" {
		a.SecretHash = prev.(*directory.Account).SecretHash
	}
	m.tenant(tenantID)[e.EntityID()] = c
	m.link(tenantID, c)
	return nil
}

func (m *memStore) Delete(_ context.Context, tenantID int64, ref directory.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.failDelete != nil {
		return m.failDelete
	}
	e, ok := m.find(tenantID, ref)
	if !ok {
		return shared.ErrNotFound
	}
	delete(m.tenant(tenantID), e.EntityID())
	m.unlink(tenantID, e)
	return nil
}

func (m *memStore) Get(_ context.Context, tenantID int64, ref directory.Ref) (directory.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.find(tenantID, ref)
	if !ok {
		return nil, fmt.Errorf("get %s: %w", ref, shared.ErrNotFound)
	}
	return m.hydrate(tenantID, e), nil
}

func (m *memStore) ResolveID(_ context.Context, tenantID int64, kind directory.Kind, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.find(tenantID, directory.ByName(kind, name))
	if !ok {
		return 0, shared.ErrNotFound
	}
	return e.EntityID(), nil
}

func (m *memStore) ResolveName(_ context.Context, tenantID int64, kind directory.Kind, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.find(tenantID, directory.ByID(kind, id))
	if !ok {
		return "", shared.ErrNotFound
	}
	return e.EntityName(), nil
}

func (m *memStore) List(_ context.Context, tenantID int64, kind directory.Kind, filter shared.Filter) ([]directory.Entity, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []directory.Entity
	for _, e := range m.tenant(tenantID) {
		if e.Kind() == kind {
			all = append(all, m.hydrate(tenantID, e))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].EntityID() < all[j].EntityID() })
	total := int64(len(all))
	start := filter.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.Limit()
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *memStore) AccountByLogin(_ context.Context, tenantID int64, loginKey string) (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.tenant(tenantID) {
		if a, ok := e.(*directory.Account); ok && a.LoginKey == loginKey {
			return id, a.SecretHash, nil
		}
	}
	return 0, "", shared.ErrNotFound
}

func (m *memStore) AddressOwner(_ context.Context, tenantID int64, address string) (directory.Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.tenant(tenantID) {
		for _, a := range directory.Addresses(e) {
			if strings.EqualFold(a, address) {
				return directory.RefOf(e), nil
			}
		}
	}
	return directory.Ref{}, shared.ErrNotFound
}

func (m *memStore) GroupsOf(_ context.Context, tenantID int64, accountID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for row := range m.members[tenantID] {
		if row.account == accountID {
			out = append(out, row.group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// seed inserts an entity directly, bypassing the counters
func (m *memStore) seed(tenantID int64, e directory.Entity) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := directory.Clone(e)
	c.SetEntityID(m.nextID)
	m.tenant(tenantID)[m.nextID] = c
	m.link(tenantID, c)
	return m.nextID
}

// memTenants is an in-memory tenancy.TenantRepository
type memTenants struct {
	mu      sync.Mutex
	tenants map[int64]*tenancy.Tenant
}

func newMemTenants(ts ...*tenancy.Tenant) *memTenants {
	r := &memTenants{tenants: make(map[int64]*tenancy.Tenant)}
	for _, t := range ts {
		r.tenants[t.ID] = t
	}
	return r
}

func (r *memTenants) FindByID(_ context.Context, id int64) (*tenancy.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *memTenants) FindByName(_ context.Context, name string) (*tenancy.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.Name == name {
			c := *t
			return &c, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memTenants) Create(_ context.Context, t *tenancy.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = int64(len(r.tenants) + 1)
	r.tenants[t.ID] = t
	return nil
}

func (r *memTenants) UpdateAdmin(_ context.Context, id int64, login, hash string, accountID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return shared.ErrNotFound
	}
	t.AdminLogin, t.AdminSecretHash, t.AdminAccountID = login, hash, accountID
	return nil
}

// memCache is an in-memory directory.EntityCache
type memCache struct {
	mu      sync.Mutex
	entries map[directory.CacheRegion]map[string][]byte
	failOn  directory.CacheRegion
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[directory.CacheRegion]map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, region directory.CacheRegion, key directory.CacheKey) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[region][key.String()]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, region directory.CacheRegion, key directory.CacheKey, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[region] == nil {
		c.entries[region] = make(map[string][]byte)
	}
	c.entries[region][key.String()] = value
	return nil
}

func (c *memCache) Invalidate(_ context.Context, region directory.CacheRegion, keys ...directory.CacheKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if region == c.failOn {
		return errors.New("cache unavailable")
	}
	for _, k := range keys {
		delete(c.entries[region], k.String())
	}
	return nil
}

func (c *memCache) has(region directory.CacheRegion, key directory.CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[region][key.String()]
	return ok
}

// recordingExtension keeps its own state per entity and records every call
type recordingExtension struct {
	name  string
	kinds []directory.Kind
	log   *callLog

	failOn   Operation
	panicOn  Operation
	failWith error

	mu    sync.Mutex
	state map[string]bool
	calls map[Operation]int
}

// callLog records the global order of extension calls
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func newRecordingExtension(name string, log *callLog, kinds ...directory.Kind) *recordingExtension {
	if len(kinds) == 0 {
		kinds = directory.Kinds
	}
	return &recordingExtension{
		name:  name,
		kinds: kinds,
		log:   log,
		state: make(map[string]bool),
		calls: make(map[Operation]int),
	}
}

func (x *recordingExtension) Name() string { return x.name }

func (x *recordingExtension) Supports(kind directory.Kind) bool {
	for _, k := range x.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (x *recordingExtension) do(op Operation, e directory.Entity, apply func(key string)) error {
	x.mu.Lock()
	x.calls[op]++
	x.mu.Unlock()
	if x.log != nil {
		x.log.add(x.name + "." + string(op))
	}

	if x.panicOn == op {
		panic(x.name + " exploded")
	}
	if x.failOn == op {
		if x.failWith != nil {
			return x.failWith
		}
		return fmt.Errorf("%s refused %s", x.name, op)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	apply(directory.RefOf(e).String())
	return nil
}

func (x *recordingExtension) Create(_ context.Context, _ *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	return x.do(OpCreate, e, func(k string) { x.state[k] = true })
}

func (x *recordingExtension) Change(_ context.Context, _ *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	return x.do(OpChange, e, func(string) {})
}

func (x *recordingExtension) Delete(_ context.Context, _ *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	return x.do(OpDelete, e, func(k string) { delete(x.state, k) })
}

func (x *recordingExtension) Get(_ context.Context, _ *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	return x.do(OpGet, e, func(string) {
		if g, ok := e.(*directory.Group); ok {
			if g.Attributes == nil {
				g.Attributes = map[string]string{}
			}
			g.Attributes[x.name] = "seen"
		}
	})
}

func (x *recordingExtension) holds(ref directory.Ref) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state[ref.String()]
}

func (x *recordingExtension) count(op Operation) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.calls[op]
}

// fakeAuthenticator is an override that accepts a fixed login
type fakeAuthenticator struct {
	accept string
	calls  int
}

func (f *fakeAuthenticator) Name() string { return "fake" }

func (f *fakeAuthenticator) AuthenticateMaster(_ context.Context, creds tenancy.Credentials) error {
	f.calls++
	if creds.Login == f.accept {
		return nil
	}
	return errors.New("rejected by override")
}

func (f *fakeAuthenticator) AuthenticateTenant(_ context.Context, creds tenancy.Credentials, t *tenancy.Tenant) (Principal, error) {
	f.calls++
	if creds.Login == f.accept {
		return Principal{Role: RoleTenantAdmin, Login: creds.Login}, nil
	}
	return Principal{}, errors.New("rejected by override")
}
