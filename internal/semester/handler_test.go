package semester

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unigate/unigate/internal/audit"
	"github.com/unigate/unigate/internal/identity"
	"github.com/unigate/unigate/internal/permissions"
	"github.com/unigate/unigate/internal/rbac"
	"github.com/unigate/unigate/internal/shared"
)

var (
	dean     = shared.Principal{ID: "E20200001", Role: shared.RoleDeanOfAdmissionRegistration, Kind: shared.KindEmployee}
	lecturer = shared.Principal{ID: "E20200002", Role: shared.RoleInstructor, Kind: shared.KindEmployee}
	student  = shared.Principal{ID: "S20240001", Role: shared.RoleStudent, Kind: shared.KindStudent}
)

type grantTable map[string][]permissions.ResolvedGrant

func (g grantTable) GrantsForUser(ctx context.Context, userID string) ([]permissions.ResolvedGrant, error) {
	return g[userID], nil
}

type everyone struct{}

func (everyone) FindUser(ctx context.Context, id string) (identity.User, error) {
	return identity.User{ID: id}, nil
}

type sinkRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *sinkRecorder) Record(ctx context.Context, e audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *sinkRecorder) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

func newTestRouter(t *testing.T, repo *memoryRepo, grants grantTable) (http.Handler, *sinkRecorder) {
	t.Helper()
	clock := &fakeClock{t: day(2024, 10, 1)}
	svc := newTestService(repo, clock)
	sink := &sinkRecorder{}
	mw := rbac.Middleware{Engine: rbac.NewEngine(grants, everyone{}, clock.Now), Audit: sink}
	h := NewHandler(nil, svc, validator.New(), mw, sink)
	r := chi.NewRouter()
	r.Route("/semesters", h.MountRoutes)
	return r, sink
}

func call(t *testing.T, router http.Handler, method, target string, caller shared.Principal, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), caller))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCurrentOpenToAnyCaller(t *testing.T) {
	router, _ := newTestRouter(t, newMemoryRepo(fall2024()), nil)

	rr := call(t, router, http.MethodGet, "/semesters/current", student, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var sem Semester
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sem))
	assert.Equal(t, "2024-FALL", sem.ID)
}

func TestCurrentWhenNothingRuns(t *testing.T) {
	router, _ := newTestRouter(t, newMemoryRepo(spring2025()), nil)
	rr := call(t, router, http.MethodGet, "/semesters/current", student, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"message":"No semester is currently running"}`, rr.Body.String())
}

func TestSemesterLifecycleByDean(t *testing.T) {
	router, sink := newTestRouter(t, newMemoryRepo(), nil)

	rr := call(t, router, http.MethodPost, "/semesters", dean, NewSemester{ID: "2024-FALL", Name: "Fall 2024", Schedule: fall2024().Schedule})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = call(t, router, http.MethodPatch, "/semesters/2024-FALL", dean, map[string]any{"name": "Autumn 2024"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = call(t, router, http.MethodGet, "/semesters/2024-FALL", dean, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Autumn 2024")

	rr = call(t, router, http.MethodGet, "/semesters?activeAt=2024-12-01T00:00:00Z", dean, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var res ListResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Len(t, res.Semesters, 1)

	rr = call(t, router, http.MethodDelete, "/semesters/2024-FALL", dean, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Semester deleted"}`, rr.Body.String())

	rr = call(t, router, http.MethodGet, "/semesters/2024-FALL", dean, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, []string{
		audit.ActionCreateSemester,
		audit.ActionUpdateSemester,
		audit.ActionDeleteSemester,
	}, sink.actions())
}

func TestSemesterWritesRequireRoleOrGrant(t *testing.T) {
	manage := &permissions.Permission{
		Name:             shared.PermManageSemesters,
		Owner:            shared.RoleDeanOfAdmissionRegistration,
		PossibleForRoles: []shared.Role{shared.RoleInstructor},
	}
	grants := grantTable{lecturer.ID: {{
		Grant:      permissions.Grant{UserID: lecturer.ID, StartDate: day(2024, 9, 1)},
		Permission: manage,
	}}}
	router, sink := newTestRouter(t, newMemoryRepo(), grants)

	rr := call(t, router, http.MethodPost, "/semesters", student, NewSemester{ID: "2024-FALL", Name: "Fall 2024", Schedule: fall2024().Schedule})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, []string{audit.ActionAccessDenied}, sink.actions())

	rr = call(t, router, http.MethodPost, "/semesters", lecturer, NewSemester{ID: "2024-FALL", Name: "Fall 2024", Schedule: fall2024().Schedule})
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestSemesterRequestValidation(t *testing.T) {
	router, _ := newTestRouter(t, newMemoryRepo(fall2024()), nil)

	bad := fall2024().Schedule
	bad.EnrollmentEndDate = bad.EnrollmentStartDate.Add(-24 * time.Hour)
	rr := call(t, router, http.MethodPost, "/semesters", dean, NewSemester{ID: "X", Name: "Broken", Schedule: bad})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, router, http.MethodPost, "/semesters", dean, map[string]any{"name": "No ID"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, router, http.MethodPost, "/semesters", dean, NewSemester{ID: "2024-FALL", Name: "Dup", Schedule: fall2024().Schedule})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"message":"Semester with this ID already exists"}`, rr.Body.String())

	rr = call(t, router, http.MethodGet, "/semesters?activeAt=yesterday", dean, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
