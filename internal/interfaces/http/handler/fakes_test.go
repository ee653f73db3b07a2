package handler

import (
	"context"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/domain/tenancy"
)

type call struct {
	op       string
	tenantID int64
	entity   directory.Entity
	refs     []directory.Ref
	filter   shared.Filter
	creds    tenancy.Credentials
}

// fakeService records calls and answers with canned results
type fakeService struct {
	calls  []call
	err    error
	entity directory.Entity
	page   shared.Paginated[directory.Entity]
}

func (f *fakeService) last() call {
	return f.calls[len(f.calls)-1]
}

func (f *fakeService) Create(_ context.Context, tenantID int64, e directory.Entity, creds tenancy.Credentials) (directory.Entity, error) {
	f.calls = append(f.calls, call{op: "create", tenantID: tenantID, entity: e, creds: creds})
	if f.err != nil {
		return nil, f.err
	}
	out := directory.Clone(e)
	out.SetEntityID(100)
	return out, nil
}

func (f *fakeService) Change(_ context.Context, tenantID int64, e directory.Entity, creds tenancy.Credentials) (directory.Entity, error) {
	f.calls = append(f.calls, call{op: "change", tenantID: tenantID, entity: e, creds: creds})
	if f.err != nil {
		return nil, f.err
	}
	return e, nil
}

func (f *fakeService) Delete(_ context.Context, tenantID int64, refs []directory.Ref, creds tenancy.Credentials) error {
	f.calls = append(f.calls, call{op: "delete", tenantID: tenantID, refs: refs, creds: creds})
	return f.err
}

func (f *fakeService) Get(_ context.Context, tenantID int64, ref directory.Ref, creds tenancy.Credentials) (directory.Entity, error) {
	f.calls = append(f.calls, call{op: "get", tenantID: tenantID, refs: []directory.Ref{ref}, creds: creds})
	if f.err != nil {
		return nil, f.err
	}
	return f.entity, nil
}

func (f *fakeService) List(_ context.Context, tenantID int64, kind directory.Kind, filter shared.Filter, creds tenancy.Credentials) (shared.Paginated[directory.Entity], error) {
	f.calls = append(f.calls, call{op: "list:" + string(kind), tenantID: tenantID, filter: filter, creds: creds})
	if f.err != nil {
		return shared.Paginated[directory.Entity]{}, f.err
	}
	return f.page, nil
}

var _ AdminService = (*fakeService)(nil)
