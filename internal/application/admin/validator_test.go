package admin

import (
	"context"
	"testing"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) (*Validator, *memStore, *tenancy.Tenant) {
	t.Helper()
	store := newMemStore()
	v, err := NewValidator(store, DefaultValidatorConfig())
	require.NoError(t, err)
	return v, store, &tenancy.Tenant{ID: testTenantID, LowercaseLogins: true}
}

func TestNewValidator_BadPattern(t *testing.T) {
	_, err := NewValidator(newMemStore(), ValidatorConfig{NamePattern: "("})
	assert.Error(t, err)

	_, err = NewValidator(newMemStore(), ValidatorConfig{MailPattern: "["})
	assert.Error(t, err)
}

func TestValidator_Create(t *testing.T) {
	tests := []struct {
		name     string
		entity   directory.Entity
		wantKind shared.FailureKind
		wantMsg  string
	}{
		{
			name:   "valid account",
			entity: &directory.Account{Base: directory.Base{Name: "bob"}, Secret: "password1", PrimaryEmail: "bob@acme.org"},
		},
		{
			name:     "account without secret",
			entity:   &directory.Account{Base: directory.Base{Name: "bob"}},
			wantKind: shared.KindInvalidData,
			wantMsg:  "password",
		},
		{
			name:     "account without name",
			entity:   &directory.Account{Secret: "password1"},
			wantKind: shared.KindInvalidData,
			wantMsg:  "name",
		},
		{
			name:     "short secret",
			entity:   &directory.Account{Base: directory.Base{Name: "bob"}, Secret: "short"},
			wantKind: shared.KindInvalidData,
			wantMsg:  "min=8",
		},
		{
			name:     "malformed primary email",
			entity:   &directory.Account{Base: directory.Base{Name: "bob"}, Secret: "password1", PrimaryEmail: "not-an-address"},
			wantKind: shared.KindInvalidData,
		},
		{
			name: "primary repeated in aliases",
			entity: &directory.Account{
				Base:         directory.Base{Name: "bob"},
				Secret:       "password1",
				PrimaryEmail: "bob@acme.org",
				Aliases:      []string{"b@acme.org", "BOB@acme.org"},
			},
			wantKind: shared.KindInvalidData,
			wantMsg:  "is the primary address",
		},
		{
			name: "alias listed twice",
			entity: &directory.Account{
				Base:         directory.Base{Name: "bob"},
				Secret:       "password1",
				PrimaryEmail: "bob@acme.org",
				Aliases:      []string{"b@acme.org", "B@acme.org"},
			},
			wantKind: shared.KindInvalidData,
			wantMsg:  "listed twice",
		},
		{
			name: "aliases beside the primary",
			entity: &directory.Account{
				Base:         directory.Base{Name: "bob"},
				Secret:       "password1",
				PrimaryEmail: "bob@acme.org",
				Aliases:      []string{"b@acme.org", "robert@acme.org"},
			},
		},
		{
			name:     "aliases without primary",
			entity:   &directory.Account{Base: directory.Base{Name: "bob"}, Secret: "password1", Aliases: []string{"b@acme.org"}},
			wantKind: shared.KindInvalidData,
			wantMsg:  "primary_email",
		},
		{
			name:     "name with blank",
			entity:   &directory.Group{Base: directory.Base{Name: "sales team"}},
			wantKind: shared.KindInvalidData,
			wantMsg:  "disallowed",
		},
		{
			name:     "name outside the allow-list",
			entity:   &directory.Group{Base: directory.Base{Name: "ventes€"}},
			wantKind: shared.KindInvalidData,
			wantMsg:  "does not match",
		},
		{
			name:     "resource without mail",
			entity:   &directory.Resource{Base: directory.Base{Name: "room"}},
			wantKind: shared.KindInvalidData,
			wantMsg:  "mail",
		},
		{
			name:     "group with unknown member",
			entity:   &directory.Group{Base: directory.Base{Name: "sales"}, Members: []int64{404}},
			wantKind: shared.KindNoSuchEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _, tenant := newTestValidator(t)

			err := v.Validate(context.Background(), tenant, tt.entity, ModeCreate)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, shared.KindOf(err))
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidator_Uniqueness(t *testing.T) {
	ctx := context.Background()
	v, store, tenant := newTestValidator(t)
	store.seed(testTenantID, &directory.Account{
		Base:         directory.Base{Name: "Bob"},
		LoginKey:     "bob",
		PrimaryEmail: "bob@acme.org",
	})

	t.Run("same name", func(t *testing.T) {
		err := v.Validate(ctx, tenant, &directory.Account{Base: directory.Base{Name: "Bob"}, Secret: "password1"}, ModeCreate)
		assert.ErrorIs(t, err, shared.ErrEntityExists)
	})

	t.Run("login collides after folding", func(t *testing.T) {
		err := v.Validate(ctx, tenant, &directory.Account{Base: directory.Base{Name: "BOB"}, Secret: "password1"}, ModeCreate)
		assert.ErrorIs(t, err, shared.ErrEntityExists)
	})

	t.Run("login does not collide without folding", func(t *testing.T) {
		plain := &tenancy.Tenant{ID: testTenantID}
		err := v.Validate(ctx, plain, &directory.Account{Base: directory.Base{Name: "BOB"}, Secret: "password1"}, ModeCreate)
		assert.NoError(t, err)
	})

	t.Run("address owned by another entity", func(t *testing.T) {
		err := v.Validate(ctx, tenant, &directory.Resource{Base: directory.Base{Name: "room"}, MailAddress: "Bob@acme.org"}, ModeCreate)
		assert.ErrorIs(t, err, shared.ErrEntityExists)
	})

	t.Run("same name in another kind", func(t *testing.T) {
		err := v.Validate(ctx, tenant, &directory.Group{Base: directory.Base{Name: "Bob"}}, ModeCreate)
		assert.NoError(t, err)
	})
}

func TestValidator_Change(t *testing.T) {
	ctx := context.Background()
	v, store, tenant := newTestValidator(t)
	id := store.seed(testTenantID, &directory.Account{Base: directory.Base{Name: "bob"}, LoginKey: "bob", PrimaryEmail: "bob@acme.org"})
	store.seed(testTenantID, &directory.Account{Base: directory.Base{Name: "carol"}, LoginKey: "carol"})

	t.Run("own name and address are not collisions", func(t *testing.T) {
		err := v.Validate(ctx, tenant, &directory.Account{Base: directory.Base{ID: id, Name: "bob"}, PrimaryEmail: "bob@acme.org"}, ModeChange)
		assert.NoError(t, err)
	})

	t.Run("secret is optional", func(t *testing.T) {
		err := v.Validate(ctx, tenant, &directory.Account{Base: directory.Base{ID: id, Name: "bob"}}, ModeChange)
		assert.NoError(t, err)
	})

	t.Run("rename onto another account", func(t *testing.T) {
		err := v.Validate(ctx, tenant, &directory.Account{Base: directory.Base{ID: id, Name: "carol"}}, ModeChange)
		assert.ErrorIs(t, err, shared.ErrEntityExists)
	})

	t.Run("id required", func(t *testing.T) {
		err := v.Validate(ctx, tenant, &directory.Account{Base: directory.Base{Name: "bob"}}, ModeChange)
		assert.ErrorIs(t, err, shared.ErrInvalidData)
	})

	t.Run("immutable primary email", func(t *testing.T) {
		locked := &tenancy.Tenant{ID: testTenantID, LowercaseLogins: true, PrimaryEmailImmutable: true}

		err := v.Validate(ctx, locked, &directory.Account{Base: directory.Base{ID: id, Name: "bob"}, PrimaryEmail: "new@acme.org"}, ModeChange)
		assert.ErrorIs(t, err, shared.ErrInvalidData)
		assert.Contains(t, err.Error(), "primary_email")

		err = v.Validate(ctx, locked, &directory.Account{Base: directory.Base{ID: id, Name: "bob"}, PrimaryEmail: "BOB@acme.org"}, ModeChange)
		assert.NoError(t, err)
	})
}

// Validation is a pure function of entity and storage state
func TestValidator_Deterministic(t *testing.T) {
	ctx := context.Background()
	v, store, tenant := newTestValidator(t)
	store.seed(testTenantID, &directory.Group{Base: directory.Base{Name: "sales"}})

	entities := []directory.Entity{
		&directory.Group{Base: directory.Base{Name: "sales"}},
		&directory.Group{Base: directory.Base{Name: "ops"}},
		&directory.Account{Base: directory.Base{Name: "x y"}},
		&directory.Resource{Base: directory.Base{Name: "room"}, MailAddress: "room@acme.org"},
	}

	for _, e := range entities {
		before := directory.Clone(e)
		first := v.Validate(ctx, tenant, e, ModeCreate)
		second := v.Validate(ctx, tenant, e, ModeCreate)

		assert.Equal(t, shared.KindOf(first), shared.KindOf(second))
		if first != nil {
			assert.Equal(t, first.Error(), second.Error())
		}
		assert.Equal(t, before, e)
	}
	assert.Zero(t, store.mutations())
}

func TestValidator_Resolve(t *testing.T) {
	ctx := context.Background()
	v, store, tenant := newTestValidator(t)
	id := store.seed(testTenantID, &directory.Group{Base: directory.Base{Name: "sales"}})

	ref, err := v.Resolve(ctx, tenant, directory.ByName(directory.KindGroup, "sales"))
	require.NoError(t, err)
	assert.Equal(t, id, ref.ID)

	ref, err = v.Resolve(ctx, tenant, directory.ByID(directory.KindGroup, id))
	require.NoError(t, err)
	assert.Equal(t, "sales", ref.Name)

	_, err = v.Resolve(ctx, tenant, directory.ByName(directory.KindGroup, "ops"))
	assert.ErrorIs(t, err, shared.ErrNoSuchEntity)

	_, err = v.Resolve(ctx, tenant, directory.Ref{Kind: directory.KindGroup})
	assert.ErrorIs(t, err, shared.ErrInvalidData)
}

func TestValidator_MailPattern(t *testing.T) {
	v, err := NewValidator(newMemStore(), ValidatorConfig{MailPattern: `@acme\.org$`})
	require.NoError(t, err)
	tenant := &tenancy.Tenant{ID: testTenantID}

	err = v.Validate(context.Background(), tenant, &directory.Resource{Base: directory.Base{Name: "room"}, MailAddress: "room@other.org"}, ModeCreate)
	assert.ErrorIs(t, err, shared.ErrInvalidData)
}
