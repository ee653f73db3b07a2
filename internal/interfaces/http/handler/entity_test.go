package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/interfaces/http/dto"
	"github.com/collab/admin/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine(svc AdminService) *gin.Engine {
	middleware.SetupValidator()
	engine := gin.New()
	engine.Use(middleware.RequestID())
	tenants := engine.Group("/tenants/:tenant", middleware.ResolveTenant(nil))
	for _, h := range NewEntityHandlers(svc) {
		h.RegisterRoutes(tenants)
	}
	return engine
}

func doRequest(engine *gin.Engine, method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth("admin", "s3cret-pass")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestEntityHandler_CreateAccount(t *testing.T) {
	svc := &fakeService{}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodPost, "/tenants/3/accounts",
		`{"name":"alice","password":"hunter2hunter2","primary_email":"alice@example.com","group_ids":[4]}`, true)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
	assert.Contains(t, w.Body.String(), `"id":100`)

	got := svc.last()
	assert.Equal(t, "create", got.op)
	assert.Equal(t, int64(3), got.tenantID)
	assert.Equal(t, "admin", got.creds.Login)
	assert.Equal(t, "s3cret-pass", got.creds.Secret)

	acct, ok := got.entity.(*directory.Account)
	require.True(t, ok)
	assert.Equal(t, "alice", acct.Name)
	assert.Equal(t, "hunter2hunter2", acct.Secret)
	assert.Equal(t, []int64{4}, acct.GroupIDs)
}

func TestEntityHandler_MissingCredentials(t *testing.T) {
	svc := &fakeService{}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodGet, "/tenants/3/groups", "", false)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, AuthRealm, w.Header().Get("WWW-Authenticate"))
	assert.Equal(t, shared.KindInvalidCredentials, decodeError(t, w).Kind)
	assert.Empty(t, svc.calls)
}

func TestEntityHandler_MalformedBody(t *testing.T) {
	svc := &fakeService{}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodPost, "/tenants/3/groups", `{"name":`, true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, shared.KindInvalidData, decodeError(t, w).Kind)
	assert.Empty(t, svc.calls)
}

func TestEntityHandler_FailureKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"credentials", shared.InvalidCredentials(nil), http.StatusUnauthorized},
		{"invalid data", shared.InvalidData("mail_address", "required"), http.StatusBadRequest},
		{"missing", shared.NoSuchEntity(directory.ByID(directory.KindResource, 8)), http.StatusNotFound},
		{"collision", shared.EntityExists("resource lab"), http.StatusConflict},
		{"storage", shared.StorageFailure("get resource", errors.New("disk full")), http.StatusInternalServerError},
		{"upgrade", shared.DatabaseNeedsUpgrade(nil), http.StatusServiceUnavailable},
		{"foreign", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(&fakeService{err: tt.err})
			w := doRequest(engine, http.MethodGet, "/tenants/3/resources/8", "", true)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, shared.KindOf(tt.err), resp.Kind)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestEntityHandler_GetByIDAndName(t *testing.T) {
	svc := &fakeService{entity: &directory.Resource{
		Base:        directory.Base{ID: 8, Name: "lab"},
		MailAddress: "lab@example.com",
	}}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodGet, "/tenants/3/resources/8", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, directory.ByID(directory.KindResource, 8), svc.last().refs[0])
	assert.Contains(t, w.Body.String(), `"mail_address":"lab@example.com"`)

	w = doRequest(engine, http.MethodGet, "/tenants/3/resources/lab?by=name", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, directory.ByName(directory.KindResource, "lab"), svc.last().refs[0])
}

func TestEntityHandler_GetRejectsBadID(t *testing.T) {
	svc := &fakeService{}
	engine := newTestEngine(svc)

	for _, id := range []string{"abc", "0", "-3"} {
		w := doRequest(engine, http.MethodGet, "/tenants/3/accounts/"+id, "", true)
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
	}
	assert.Empty(t, svc.calls)
}

func TestEntityHandler_ChangeUsesPathID(t *testing.T) {
	svc := &fakeService{}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodPut, "/tenants/3/groups/12",
		`{"name":"ops","members":[1,2]}`, true)

	require.Equal(t, http.StatusOK, w.Code)
	got := svc.last()
	assert.Equal(t, "change", got.op)
	assert.Equal(t, int64(12), got.entity.EntityID())
	assert.Equal(t, []int64{1, 2}, got.entity.(*directory.Group).Members)
}

func TestEntityHandler_ChangeByName(t *testing.T) {
	svc := &fakeService{}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodPut, "/tenants/3/groups/ops?by=name", `{"display_name":"Operations"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", svc.last().entity.EntityName())
	assert.Zero(t, svc.last().entity.EntityID())

	w = doRequest(engine, http.MethodPut, "/tenants/3/groups/ops?by=name", `{"name":"dev"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEntityHandler_List(t *testing.T) {
	svc := &fakeService{page: shared.NewPaginated([]directory.Entity{
		&directory.Account{Base: directory.Base{ID: 1, Name: "alice"}},
		&directory.Account{Base: directory.Base{ID: 2, Name: "bob"}},
	}, 12, 2, 2)}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodGet, "/tenants/3/accounts?page=2&page_size=2&search=b&order_dir=desc", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	got := svc.last()
	assert.Equal(t, "list:account", got.op)
	assert.Equal(t, 2, got.filter.Page)
	assert.Equal(t, 2, got.filter.PageSize)
	assert.Equal(t, "b", got.filter.Search)
	assert.Equal(t, "desc", got.filter.OrderDir)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(12), resp.Meta.Total)
	assert.Equal(t, 6, resp.Meta.TotalPages)
	assert.Len(t, resp.Data, 2)
}

func TestEntityHandler_ListRejectsBadQuery(t *testing.T) {
	svc := &fakeService{}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodGet, "/tenants/3/accounts?page_size=500", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.calls)
}

func TestEntityHandler_DeleteOne(t *testing.T) {
	svc := &fakeService{}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodDelete, "/tenants/3/accounts/5", "", true)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []directory.Ref{directory.ByID(directory.KindAccount, 5)}, svc.last().refs)
}

func TestEntityHandler_DeleteBatch(t *testing.T) {
	svc := &fakeService{}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodDelete, "/tenants/3/accounts", `{"ids":[5,6],"names":["carol"]}`, true)

	assert.Equal(t, http.StatusNoContent, w.Code)
	refs := svc.last().refs
	require.Len(t, refs, 3)
	assert.Equal(t, directory.ByName(directory.KindAccount, "carol"), refs[2])
}

func TestEntityHandler_DeleteBatchEmpty(t *testing.T) {
	svc := &fakeService{}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodDelete, "/tenants/3/accounts", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.calls)
}

func TestEntityHandler_DeleteBatchPartialFailure(t *testing.T) {
	errs := multierr.Combine(
		fmt.Errorf("account:5: %w", shared.NoSuchEntity(directory.ByID(directory.KindAccount, 5))),
		errors.New("account:6: mailbox extension unavailable"),
	)
	svc := &fakeService{err: shared.StorageFailure("delete account", errs)}
	engine := newTestEngine(svc)

	w := doRequest(engine, http.MethodDelete, "/tenants/3/accounts", `{"ids":[5,6]}`, true)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, shared.KindStorageFailure, resp.Kind)
	assert.Len(t, resp.Failures, 2)
}
