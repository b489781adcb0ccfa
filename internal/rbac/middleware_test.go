package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unigate/unigate/internal/audit"
	"github.com/unigate/unigate/internal/observability"
	"github.com/unigate/unigate/internal/permissions"
	"github.com/unigate/unigate/internal/shared"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func serve(t *testing.T, h http.Handler, method, target string, caller *shared.Principal) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if caller != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *caller))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func messageOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Message
}

func TestAuthorizeRequiresPrincipal(t *testing.T) {
	sink := &recordingSink{}
	mw := Middleware{Engine: NewEngine(&stubGrants{}, knownUsers(), clock), Audit: sink}

	rr := serve(t, mw.RequireRoles(shared.RoleAdmin)(okHandler), http.MethodGet, "/courses", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid token payload", messageOf(t, rr))
	assert.Empty(t, sink.all())
}

func TestAuthorizeAllowsByRoleWithoutAudit(t *testing.T) {
	sink := &recordingSink{}
	mw := Middleware{Engine: NewEngine(&stubGrants{}, knownUsers(), clock), Audit: sink}
	caller := instructor("E20240001")

	rr := serve(t, mw.RequireRoles(shared.RoleInstructor)(okHandler), http.MethodGet, "/courses", &caller)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, sink.all())
}

func TestAuthorizeAuditsAllowedWhenEnabled(t *testing.T) {
	sink := &recordingSink{}
	mw := Middleware{Engine: NewEngine(&stubGrants{}, knownUsers(), clock), Audit: sink, AuditAllowed: true}
	caller := instructor("E20240001")

	rr := serve(t, mw.RequireRoles(shared.RoleInstructor)(okHandler), http.MethodGet, "/courses", &caller)
	require.Equal(t, http.StatusNoContent, rr.Code)
	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionAccessGranted, entries[0].Action)
	assert.Equal(t, http.StatusOK, entries[0].Status)
}

func TestAuthorizeDenialIsAudited(t *testing.T) {
	sink := &recordingSink{}
	metrics := observability.NewMetrics()
	mw := Middleware{Engine: NewEngine(&stubGrants{}, knownUsers("E20240001"), clock), Audit: sink, Metrics: metrics}
	caller := instructor("E20240001")
	roles := []shared.Role{shared.RoleDeanOfAcademicAffairs}

	rr := serve(t, mw.AuthorizeRoleOrPermission(roles, shared.PermCreateCourse)(okHandler), http.MethodPost, "/courses", &caller)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "Access denied: insufficient permissions", messageOf(t, rr))

	entries := sink.all()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, audit.ActionAccessDenied, entry.Action)
	assert.Equal(t, http.StatusForbidden, entry.Status)
	assert.Equal(t, "E20240001", entry.UserID)
	assert.Equal(t, shared.KindEmployee, entry.UserKind)
	assert.Equal(t, roles, entry.Data["allowedRoles"])
	assert.Equal(t, shared.PermCreateCourse, entry.Data["requiredPermissionName"])
	assert.Equal(t, "/courses", entry.Data["path"])
	assert.Equal(t, http.MethodPost, entry.Data["method"])
}

func TestAuthorizeAllowsByGrant(t *testing.T) {
	perm := createCourse(shared.RoleInstructor)
	grants := &stubGrants{byUser: map[string][]permissions.ResolvedGrant{
		"E20240001": {grantOf(perm, "E20240001", testNow.AddDate(0, -1, 0), nil)},
	}}
	sink := &recordingSink{}
	mw := Middleware{Engine: NewEngine(grants, knownUsers("E20240001"), clock), Audit: sink}
	caller := instructor("E20240001")

	rr := serve(t, mw.AuthorizeRoleOrPermission([]shared.Role{shared.RoleAdmin}, shared.PermCreateCourse)(okHandler),
		http.MethodPost, "/courses", &caller)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, sink.all())
}

func TestAuthorizeCallerNotFound(t *testing.T) {
	sink := &recordingSink{}
	mw := Middleware{Engine: NewEngine(&stubGrants{}, knownUsers(), clock), Audit: sink}
	caller := instructor("E20249999")

	rr := serve(t, mw.AuthorizeRoleOrPermission(nil, shared.PermCreateCourse)(okHandler), http.MethodPost, "/courses", &caller)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "User not found", messageOf(t, rr))
	require.Len(t, sink.all(), 1)
	assert.Equal(t, http.StatusNotFound, sink.all()[0].Status)
}

func TestAuthorizeFailureIsSystemError(t *testing.T) {
	sink := &recordingSink{}
	mw := Middleware{Engine: NewEngine(&stubGrants{err: errBackend}, knownUsers("E20240001"), clock), Audit: sink}
	caller := instructor("E20240001")

	rr := serve(t, mw.AuthorizeRoleOrPermission(nil, shared.PermCreateCourse)(okHandler), http.MethodPost, "/courses", &caller)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Internal server error", messageOf(t, rr))

	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionAccessDenied, entries[0].Action)
	assert.Equal(t, http.StatusInternalServerError, entries[0].Status)
	assert.Contains(t, entries[0].Error, "connection reset")
}

func withParam(h http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Handle("/employees/{id}", h)
	return r
}

func TestRequireSelf(t *testing.T) {
	mw := Middleware{}
	h := withParam(mw.RequireSelf("id")(okHandler))

	own := instructor("E20240001")
	assert.Equal(t, http.StatusNoContent, serve(t, h, http.MethodGet, "/employees/E20240001", &own).Code)

	other := instructor("E20240002")
	rr := serve(t, h, http.MethodGet, "/employees/E20240001", &other)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "Access denied", messageOf(t, rr))
}

func TestRequireSelfOrEmployee(t *testing.T) {
	mw := Middleware{}
	h := withParam(mw.RequireSelfOrEmployee("id")(okHandler))

	employee := instructor("E20240002")
	assert.Equal(t, http.StatusNoContent, serve(t, h, http.MethodGet, "/employees/S20240001", &employee).Code)

	student := shared.Principal{ID: "S20240001", Role: shared.RoleStudent, Kind: shared.KindStudent}
	assert.Equal(t, http.StatusNoContent, serve(t, h, http.MethodGet, "/employees/S20240001", &student).Code)
	assert.Equal(t, http.StatusForbidden, serve(t, h, http.MethodGet, "/employees/S20240002", &student).Code)
}

func TestRequireEmployeeSelfAuditsDenial(t *testing.T) {
	sink := &recordingSink{}
	mw := Middleware{Audit: sink}
	h := withParam(mw.RequireEmployeeSelf("id")(okHandler))

	own := instructor("E20240001")
	assert.Equal(t, http.StatusNoContent, serve(t, h, http.MethodPatch, "/employees/E20240001", &own).Code)
	assert.Empty(t, sink.all())

	student := shared.Principal{ID: "E20240001", Role: shared.RoleStudent, Kind: shared.KindStudent}
	assert.Equal(t, http.StatusForbidden, serve(t, h, http.MethodPatch, "/employees/E20240001", &student).Code)

	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionEnsureEmployeeSelfAccess, entries[0].Action)
	assert.Equal(t, "E20240001", entries[0].Data["requestedId"])
}

func TestRecordSurvivesWithoutSink(t *testing.T) {
	mw := Middleware{Engine: NewEngine(&stubGrants{}, knownUsers("u"), clock)}
	caller := instructor("u")
	rr := serve(t, mw.AuthorizeRoleOrPermission(nil, shared.PermCreateCourse)(okHandler), http.MethodGet, "/x", &caller)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
