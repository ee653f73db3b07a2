package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		kind     shared.FailureKind
		expected int
	}{
		{shared.KindInvalidCredentials, http.StatusUnauthorized},
		{shared.KindInvalidData, http.StatusBadRequest},
		{shared.KindNoSuchEntity, http.StatusNotFound},
		{shared.KindEntityExists, http.StatusConflict},
		{shared.KindStorageFailure, http.StatusInternalServerError},
		{shared.KindDatabaseNeedsUpgrade, http.StatusServiceUnavailable},
		{"Unknown", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.kind))
		})
	}
}

func TestNewErrorResponse_Failure(t *testing.T) {
	status, resp := NewErrorResponse(shared.NoSuchEntity(directory.ByID(directory.KindGroup, 7)), "req-1")

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, shared.KindNoSuchEntity, resp.Kind)
	assert.Equal(t, "no such entity: group:7", resp.Message)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Empty(t, resp.Failures)
}

func TestNewErrorResponse_WrappedFailure(t *testing.T) {
	err := fmt.Errorf("change: %w", shared.InvalidData("name", "required"))

	status, resp := NewErrorResponse(err, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, shared.KindInvalidData, resp.Kind)
	assert.Equal(t, "invalid data: name: required", resp.Message)
}

func TestNewErrorResponse_ForeignErrorHidesText(t *testing.T) {
	status, resp := NewErrorResponse(errors.New("pq: relation accounts does not exist"), "")

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, shared.KindStorageFailure, resp.Kind)
	assert.Equal(t, "internal error", resp.Message)
}

func TestNewErrorResponse_CredentialsAreGeneric(t *testing.T) {
	status, resp := NewErrorResponse(shared.InvalidCredentials(errors.New("tenant 9 not found")), "")

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "authentication failed", resp.Message)
	assert.NotContains(t, resp.Message, "tenant")
}

func TestNewErrorResponse_BatchFailures(t *testing.T) {
	errs := multierr.Combine(
		errors.New("account:1: mailbox unavailable"),
		errors.New("account:2: no such entity"),
	)
	status, resp := NewErrorResponse(shared.StorageFailure("delete account", errs), "")

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, shared.KindStorageFailure, resp.Kind)
	require.Len(t, resp.Failures, 2)
	assert.Equal(t, "account:1: mailbox unavailable", resp.Failures[0])
}

func TestErrorResponse_JSON(t *testing.T) {
	resp := NewInvalidDataResponse("malformed body", "req-9")

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "InvalidData", body["kind"])
	assert.Equal(t, "malformed body", body["message"])
	assert.Equal(t, "req-9", body["request_id"])
	_, hasFailures := body["failures"]
	assert.False(t, hasFailures)
}

func TestNewPageResponse(t *testing.T) {
	page := shared.NewPaginated([]int{1, 2}, 45, 2, 20)
	resp := NewPageResponse(page.Items, MetaOf(page))

	assert.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(45), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.Page)
	assert.Equal(t, 3, resp.Meta.TotalPages)

	empty := MetaOf(shared.NewPaginated[int](nil, 0, 1, 20))
	assert.Equal(t, 0, empty.TotalPages)
}

func TestListRequest_ToFilter(t *testing.T) {
	req := DefaultListRequest()
	req.Search = "ops"
	f := req.ToFilter()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 20, f.PageSize)
	assert.Equal(t, "name", f.OrderBy)
	assert.Equal(t, "asc", f.OrderDir)
	assert.Equal(t, "ops", f.Search)
}

func TestToEntityResponse_OmitsSecret(t *testing.T) {
	acct := &directory.Account{
		Base:         directory.Base{ID: 3, Name: "alice"},
		Secret:       "hunter2hunter2",
		SecretHash:   "$2a$10$abc",
		PrimaryEmail: "alice@example.com",
	}

	raw, err := json.Marshal(ToEntityResponse(acct))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.NotContains(t, string(raw), "$2a$")
	assert.Contains(t, string(raw), `"kind":"account"`)
}

func TestDeleteRequest_Refs(t *testing.T) {
	req := DeleteRequest{IDs: []int64{4, 5}, Names: []string{"lab"}}

	refs := req.Refs(directory.KindResource)
	require.Len(t, refs, 3)
	assert.Equal(t, directory.ByID(directory.KindResource, 4), refs[0])
	assert.Equal(t, directory.ByName(directory.KindResource, "lab"), refs[2])
	assert.False(t, req.IsEmpty())
	assert.True(t, DeleteRequest{}.IsEmpty())
}

func TestAccountRequest_ToEntity(t *testing.T) {
	req := &AccountRequest{Name: "bob", Password: "s3cretpass", GroupIDs: []int64{1}}

	acct, ok := req.ToEntity().(*directory.Account)
	require.True(t, ok)
	assert.Equal(t, "bob", acct.Name)
	assert.Equal(t, "s3cretpass", acct.Secret)
	assert.Equal(t, []int64{1}, acct.GroupIDs)
}
