package admin

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"reflect"
	"regexp"
	"strings"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/go-playground/validator/v10"
)

// Mode selects the mandatory field set
type Mode int

const (
	ModeCreate Mode = iota
	ModeChange
)

func (m Mode) String() string {
	if m == ModeChange {
		return "change"
	}
	return "create"
}

// ValidatorConfig holds the configurable format rules
type ValidatorConfig struct {
	// NamePattern is the allow-list every entity name must match
	NamePattern string
	// DisallowedChars may not appear anywhere in a name
	DisallowedChars string
	// MailPattern optionally restricts mail addresses further than RFC 5322
	MailPattern string
}

// DefaultValidatorConfig returns the default format rules
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		NamePattern:     `^[A-Za-z0-9._@-]+$`,
		DisallowedChars: " \t\r\n/\\,;:*?\"<>|",
	}
}

// Validator checks entities before any storage mutation. It reads storage
// state but never changes it or the entity.
type Validator struct {
	store       directory.Store
	validate    *validator.Validate
	namePattern *regexp.Regexp
	mailPattern *regexp.Regexp
	disallowed  string
}

// NewValidator creates a validator
func NewValidator(store directory.Store, cfg ValidatorConfig) (*Validator, error) {
	v := &Validator{
		store:      store,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		disallowed: cfg.DisallowedChars,
	}
	v.validate.RegisterTagNameFunc(jsonFieldName)

	if cfg.NamePattern != "" {
		re, err := regexp.Compile(cfg.NamePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid name pattern: %w", err)
		}
		v.namePattern = re
	}
	if cfg.MailPattern != "" {
		re, err := regexp.Compile(cfg.MailPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid mail pattern: %w", err)
		}
		v.mailPattern = re
	}
	return v, nil
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return strings.ToLower(fld.Name)
	}
	if name == "" {
		return fld.Name
	}
	return name
}

// Validate checks mandatory fields, formats and uniqueness of e in tenant
func (v *Validator) Validate(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, mode Mode) error {
	if err := v.checkMandatory(e, mode); err != nil {
		return err
	}
	if err := v.checkFormat(e); err != nil {
		return err
	}
	if err := v.checkName(e.EntityName()); err != nil {
		return err
	}
	if err := v.checkAddresses(e); err != nil {
		return err
	}
	if err := v.checkReferences(ctx, tenant, e); err != nil {
		return err
	}
	if err := v.checkNameUnique(ctx, tenant, e, mode); err != nil {
		return err
	}
	if err := v.checkAddressesUnique(ctx, tenant, e); err != nil {
		return err
	}
	if mode == ModeChange {
		return v.checkImmutable(ctx, tenant, e)
	}
	return nil
}

// Resolve fills whichever of ID and name is missing from ref
func (v *Validator) Resolve(ctx context.Context, tenant *tenancy.Tenant, ref directory.Ref) (directory.Ref, error) {
	if ref.IsZero() {
		return ref, shared.InvalidData("id", "either id or name is required")
	}
	if ref.IsResolved() {
		return ref, nil
	}

	if ref.ID == 0 {
		id, err := v.store.ResolveID(ctx, tenant.ID, ref.Kind, ref.Name)
		if err != nil {
			return ref, resolveError(ref, err)
		}
		ref.ID = id
		return ref, nil
	}

	name, err := v.store.ResolveName(ctx, tenant.ID, ref.Kind, ref.ID)
	if err != nil {
		return ref, resolveError(ref, err)
	}
	ref.Name = name
	return ref, nil
}

func resolveError(ref directory.Ref, err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NoSuchEntity(ref)
	}
	return shared.StorageFailure("resolve "+ref.String(), err)
}

func (v *Validator) checkMandatory(e directory.Entity, mode Mode) error {
	fields := e.MandatoryCreate()
	if mode == ModeChange {
		fields = e.MandatoryChange()
		if e.EntityID() == 0 {
			return shared.InvalidData("id", "required")
		}
	}

	val := reflect.Indirect(reflect.ValueOf(e))
	typ := val.Type()
	for _, name := range fields {
		sf, ok := typ.FieldByName(name)
		if !ok {
			return shared.InvalidData(name, "unknown field")
		}
		if err := v.validate.Var(val.FieldByIndex(sf.Index).Interface(), "required"); err != nil {
			return shared.InvalidData(jsonFieldName(sf), "required")
		}
	}
	return nil
}

func (v *Validator) checkFormat(e directory.Entity) error {
	err := v.validate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		return shared.InvalidData(fe.Field(), rule)
	}
	return shared.InvalidData("entity", err.Error())
}

func (v *Validator) checkName(name string) error {
	if name == "" {
		return nil
	}
	if v.disallowed != "" && strings.ContainsAny(name, v.disallowed) {
		return shared.InvalidData("name", "contains a disallowed character")
	}
	if v.namePattern != nil && !v.namePattern.MatchString(name) {
		return shared.InvalidData("name", "does not match "+v.namePattern.String())
	}
	return nil
}

func (v *Validator) checkAddresses(e directory.Entity) error {
	if a, ok := e.(*directory.Account); ok {
		if err := checkAliases(a); err != nil {
			return err
		}
	}

	seen := make(map[string]bool)
	for _, addr := range directory.Addresses(e) {
		parsed, err := mail.ParseAddress(addr)
		if err != nil || parsed.Address != addr {
			return shared.InvalidData("address", fmt.Sprintf("%q is not a valid mail address", addr))
		}
		if v.mailPattern != nil && !v.mailPattern.MatchString(addr) {
			return shared.InvalidData("address", fmt.Sprintf("%q is not allowed", addr))
		}
		key := strings.ToLower(addr)
		if seen[key] {
			return shared.InvalidData("aliases", fmt.Sprintf("%q is listed twice", addr))
		}
		seen[key] = true
	}
	return nil
}

// checkAliases enforces that aliases are additional addresses: they need a
// primary address and may not repeat it.
func checkAliases(a *directory.Account) error {
	if len(a.Aliases) == 0 {
		return nil
	}
	if a.PrimaryEmail == "" {
		return shared.InvalidData("primary_email", "required when aliases are set")
	}
	for _, alias := range a.Aliases {
		if strings.EqualFold(alias, a.PrimaryEmail) {
			return shared.InvalidData("aliases", fmt.Sprintf("%q is the primary address", alias))
		}
	}
	return nil
}

// checkReferences ensures referenced members and groups exist
func (v *Validator) checkReferences(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity) error {
	var refs []directory.Ref
	switch x := e.(type) {
	case *directory.Account:
		for _, id := range x.GroupIDs {
			refs = append(refs, directory.ByID(directory.KindGroup, id))
		}
	case *directory.Group:
		for _, id := range x.Members {
			refs = append(refs, directory.ByID(directory.KindAccount, id))
		}
	}

	for _, ref := range refs {
		ok, err := v.store.Exists(ctx, tenant.ID, ref)
		if err != nil {
			return shared.StorageFailure("check "+ref.String(), err)
		}
		if !ok {
			return shared.NoSuchEntity(ref)
		}
	}
	return nil
}

func (v *Validator) checkNameUnique(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, mode Mode) error {
	name := e.EntityName()
	if name == "" {
		return nil
	}

	id, err := v.store.ResolveID(ctx, tenant.ID, e.Kind(), name)
	switch {
	case errors.Is(err, shared.ErrNotFound):
	case err != nil:
		return shared.StorageFailure("check name", err)
	case mode == ModeCreate || id != e.EntityID():
		return shared.EntityExists(string(e.Kind()) + " " + name)
	}

	if e.Kind() != directory.KindAccount {
		return nil
	}

	// Logins collide after folding even when the raw names differ
	id, _, err = v.store.AccountByLogin(ctx, tenant.ID, tenancy.NormalizeLogin(name, tenant.LowercaseLogins))
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return nil
	case err != nil:
		return shared.StorageFailure("check login", err)
	case mode == ModeCreate || id != e.EntityID():
		return shared.EntityExists("login " + name)
	}
	return nil
}

func (v *Validator) checkAddressesUnique(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity) error {
	for _, addr := range directory.Addresses(e) {
		owner, err := v.store.AddressOwner(ctx, tenant.ID, addr)
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		if err != nil {
			return shared.StorageFailure("check address", err)
		}
		if owner.Kind != e.Kind() || owner.ID != e.EntityID() {
			return shared.EntityExists("address " + addr)
		}
	}
	return nil
}

func (v *Validator) checkImmutable(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity) error {
	a, ok := e.(*directory.Account)
	if !ok || !tenant.PrimaryEmailImmutable {
		return nil
	}

	stored, err := v.store.Get(ctx, tenant.ID, directory.ByID(directory.KindAccount, a.ID))
	if err != nil {
		return resolveError(directory.ByID(directory.KindAccount, a.ID), err)
	}
	prev, ok := stored.(*directory.Account)
	if !ok || prev.PrimaryEmail == "" {
		return nil
	}
	if !strings.EqualFold(prev.PrimaryEmail, a.PrimaryEmail) {
		return shared.InvalidData("primary_email", "cannot be changed in this tenant")
	}
	return nil
}
