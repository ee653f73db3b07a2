package admin

import (
	"context"
	"testing"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/extension"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func newChain(t *testing.T, handles ...extension.Handle) *chainExecutor {
	t.Helper()
	registry := extension.NewRegistry()
	for _, h := range handles {
		require.NoError(t, registry.Register(h))
	}
	return &chainExecutor{registry: registry, logger: zap.NewNop()}
}

func TestChain_RunsInRegistrationOrder(t *testing.T) {
	calls := &callLog{}
	a := newRecordingExtension("a", calls)
	b := newRecordingExtension("b", calls)
	c := newRecordingExtension("c", calls)
	x := newChain(t, extension.NewHandle(a, true), extension.NewHandle(b, true), extension.NewHandle(c, true))

	l, err := x.run(context.Background(), OpCreate, &tenancy.Tenant{ID: 1}, &directory.Group{Base: directory.Base{ID: 3, Name: "g"}}, tenancy.Credentials{}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.create", "b.create", "c.create"}, calls.all())
	assert.Len(t, l.applied(), 3)
	assert.NotEmpty(t, l.id)
}

func TestChain_FailFastStopsAtFirstFailure(t *testing.T) {
	a := newRecordingExtension("a", nil)
	b := newRecordingExtension("b", nil)
	c := newRecordingExtension("c", nil)
	b.failOn = OpCreate
	x := newChain(t, extension.NewHandle(a, true), extension.NewHandle(b, true), extension.NewHandle(c, true))

	l, err := x.run(context.Background(), OpCreate, &tenancy.Tenant{ID: 1}, &directory.Group{Base: directory.Base{ID: 3, Name: "g"}}, tenancy.Credentials{}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extension b")
	assert.Zero(t, c.count(OpCreate))

	applied := l.applied()
	require.Len(t, applied, 1)
	assert.Equal(t, "a", applied[0].Name)
}

func TestChain_CollectsAllFailures(t *testing.T) {
	a := newRecordingExtension("a", nil)
	b := newRecordingExtension("b", nil)
	c := newRecordingExtension("c", nil)
	a.failOn = OpDelete
	c.failOn = OpDelete
	x := newChain(t, extension.NewHandle(a, true), extension.NewHandle(b, true), extension.NewHandle(c, true))

	l, err := x.run(context.Background(), OpDelete, &tenancy.Tenant{ID: 1}, &directory.Resource{Base: directory.Base{ID: 7, Name: "r"}}, tenancy.Credentials{}, false)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, 1, b.count(OpDelete))
	assert.Equal(t, 2, l.count(outcomeFailed))
}

func TestChain_RecoversPanics(t *testing.T) {
	a := newRecordingExtension("a", nil)
	a.panicOn = OpChange
	x := newChain(t, extension.NewHandle(a, true))

	_, err := x.run(context.Background(), OpChange, &tenancy.Tenant{ID: 1}, &directory.Group{Base: directory.Base{ID: 3, Name: "g"}}, tenancy.Credentials{}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic during change")
	assert.Contains(t, err.Error(), "a exploded")
}

func TestChain_SkipsUnsupportedAndAdminAccount(t *testing.T) {
	groupsOnly := newRecordingExtension("groups", nil, directory.KindGroup)
	restricted := newRecordingExtension("restricted", nil)
	trusted := newRecordingExtension("trusted", nil)
	x := newChain(t,
		extension.NewHandle(groupsOnly, true),
		extension.NewHandle(restricted, false),
		extension.NewHandle(trusted, true))

	tenant := &tenancy.Tenant{ID: 1, AdminAccountID: 9}
	admin := &directory.Account{Base: directory.Base{ID: 9, Name: "admin"}}

	l, err := x.run(context.Background(), OpChange, tenant, admin, tenancy.Credentials{}, true)
	require.NoError(t, err)
	assert.Zero(t, groupsOnly.count(OpChange))
	assert.Zero(t, restricted.count(OpChange))
	assert.Equal(t, 1, trusted.count(OpChange))
	assert.Equal(t, 1, l.count(outcomeSkipped))

	other := &directory.Account{Base: directory.Base{ID: 10, Name: "bob"}}
	_, err = x.run(context.Background(), OpChange, tenant, other, tenancy.Credentials{}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, restricted.count(OpChange))
}

func TestInvoke_UnknownOperation(t *testing.T) {
	h := extension.NewHandle(newRecordingExtension("a", nil), true)
	err := invoke(context.Background(), h, Operation("merge"), &tenancy.Tenant{}, &directory.Group{}, tenancy.Credentials{})
	assert.Error(t, err)
}

func TestCompensator_DeletesAppliedThenCore(t *testing.T) {
	ctx := context.Background()
	calls := &callLog{}
	a := newRecordingExtension("a", calls)
	b := newRecordingExtension("b", calls)
	store := newMemStore()
	id := store.seed(1, &directory.Group{Base: directory.Base{Name: "g"}})
	ent := &directory.Group{Base: directory.Base{ID: id, Name: "g"}}

	l := newLedger(OpCreate)
	l.record(extension.NewHandle(a, true), outcomeApplied, nil)
	l.record(extension.NewHandle(b, true), outcomeFailed, assert.AnError)

	c := &compensator{store: store, logger: zap.NewNop()}
	c.compensateCreate(ctx, &tenancy.Tenant{ID: 1}, ent, tenancy.Credentials{}, l)

	assert.Equal(t, []string{"a.delete"}, calls.all())
	ok, _ := store.Exists(ctx, 1, directory.ByID(directory.KindGroup, id))
	assert.False(t, ok)
}
