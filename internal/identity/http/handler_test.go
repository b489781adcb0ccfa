package identityhttp

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
	"golang.org/x/crypto/bcrypt"

	"github.com/unigate/unigate/internal/audit"
	"github.com/unigate/unigate/internal/identity"
	"github.com/unigate/unigate/internal/permissions"
	"github.com/unigate/unigate/internal/rbac"
	"github.com/unigate/unigate/internal/shared"
)

type stubRepo struct {
	mu      sync.Mutex
	users   map[string]identity.User
	seq     map[string]int
	nextPos int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: map[string]identity.User{}, seq: map[string]int{}}
}

func (s *stubRepo) FindUser(ctx context.Context, id string) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Deleted {
		return identity.User{}, identity.ErrUserNotFound
	}
	return u, nil
}

func (s *stubRepo) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *stubRepo) UpdatePassword(ctx context.Context, id, hash string) error { return nil }

func (s *stubRepo) UpdateEmail(ctx context.Context, id, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Deleted {
		return identity.ErrUserNotFound
	}
	u.Email = email
	s.users[id] = u
	return nil
}

func (s *stubRepo) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	return nil
}

func (s *stubRepo) ResetPassword(ctx context.Context, kind shared.UserKind, tokenHash, passwordHash string, now time.Time) (string, error) {
	return "", identity.ErrResetTokenInvalid
}

func (s *stubRepo) SoftDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.Deleted = true
	s.users[id] = u
	return nil
}

func (s *stubRepo) WithTx(ctx context.Context, fn func(context.Context, identity.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, stubTx{s})
}

type stubTx struct{ s *stubRepo }

func (t stubTx) NextSequence(ctx context.Context, counter string) (int, error) {
	t.s.seq[counter]++
	return t.s.seq[counter], nil
}

func (t stubTx) InsertUser(ctx context.Context, u identity.User) error {
	t.s.users[u.ID] = u
	return nil
}

func (t stubTx) LockUser(ctx context.Context, id string) (identity.User, error) {
	u, ok := t.s.users[id]
	if !ok || u.Deleted {
		return identity.User{}, identity.ErrUserNotFound
	}
	return u, nil
}

func (t stubTx) ClosePosition(ctx context.Context, positionID int64, at time.Time) error {
	for id, u := range t.s.users {
		positions := append([]identity.Position(nil), u.Positions...)
		for i := range positions {
			if positions[i].ID == positionID {
				end := at
				positions[i].EndDate = &end
			}
		}
		u.Positions = positions
		t.s.users[id] = u
	}
	return nil
}

func (t stubTx) InsertPosition(ctx context.Context, employeeID string, p identity.Position) (int64, error) {
	t.s.nextPos++
	p.ID = t.s.nextPos
	u := t.s.users[employeeID]
	u.Positions = append(append([]identity.Position(nil), u.Positions...), p)
	t.s.users[employeeID] = u
	return p.ID, nil
}

type noGrants struct{}

func (noGrants) GrantsForUser(ctx context.Context, userID string) ([]permissions.ResolvedGrant, error) {
	return nil, nil
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingSink) Record(ctx context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingSink) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	router  http.Handler
	service *identity.Service
	sink    *recordingSink
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	now := func() time.Time { return time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC) }
	service := identity.NewService(newStubRepo(), identity.WithClock(now), identity.WithBcryptCost(bcrypt.MinCost))
	sink := &recordingSink{}
	mw := rbac.Middleware{Engine: rbac.NewEngine(noGrants{}, service, now), Audit: sink}
	handler := NewHandler(nil, service, validator.New(), mw, sink)

	r := chi.NewRouter()
	r.Route("/students", handler.MountStudentRoutes)
	r.Route("/employees", handler.MountEmployeeRoutes)
	return fixture{router: r, service: service, sink: sink}
}

func (f fixture) do(t *testing.T, method, target string, caller shared.Principal, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), caller))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

var (
	registrar = shared.Principal{ID: "E20230001", Role: shared.RoleHeadOfAdmissionRegistration, Kind: shared.KindEmployee}
	hrHead    = shared.Principal{ID: "E20230002", Role: shared.RoleHeadOfHumanResources, Kind: shared.KindEmployee}
)

func TestCreateStudent(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/students", registrar, map[string]string{
		"name": "Lin", "email": "lin@uni.edu", "password": "password123",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "S20240001", created["id"])
	assert.Equal(t, "Student", created["userKind"])
	assert.NotContains(t, created, "passwordHash")
	assert.Equal(t, []string{audit.ActionCreateStudent}, f.sink.actions())
}

func TestCreateStudentValidation(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/students", registrar, map[string]string{"name": "Lin", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateStudentRequiresRole(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/students", hrHead, map[string]string{
		"name": "Lin", "email": "lin@uni.edu", "password": "password123",
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, []string{audit.ActionAccessDenied}, f.sink.actions())
}

func TestGetStudentSelfOrEmployee(t *testing.T) {
	f := newFixture(t)
	student, err := f.service.CreateStudent(context.Background(), identity.NewStudent{Name: "Lin", Email: "lin@uni.edu", Password: "password123"})
	require.NoError(t, err)
	self := shared.Principal{ID: student.ID, Role: shared.RoleStudent, Kind: shared.KindStudent}
	peer := shared.Principal{ID: "S20249999", Role: shared.RoleStudent, Kind: shared.KindStudent}

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/students/"+student.ID, self, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/students/"+student.ID, hrHead, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/students/"+student.ID, peer, nil).Code)
}

func TestUpdateContactIsSelfOnly(t *testing.T) {
	f := newFixture(t)
	student, err := f.service.CreateStudent(context.Background(), identity.NewStudent{Name: "Lin", Email: "lin@uni.edu", Password: "password123"})
	require.NoError(t, err)
	self := shared.Principal{ID: student.ID, Role: shared.RoleStudent, Kind: shared.KindStudent}
	target := "/students/" + student.ID + "/contact"

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPatch, target, registrar, map[string]string{"email": "x@uni.edu"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, target, self, map[string]string{"email": "nope"}).Code)

	rr := f.do(t, http.MethodPatch, target, self, map[string]string{"email": "lin.new@uni.edu"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated, err := f.service.FindUser(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, "lin.new@uni.edu", updated.Email)
	assert.Contains(t, f.sink.actions(), audit.ActionUpdateStudentContact)
}

func TestEmployeeLifecycle(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/employees", hrHead, map[string]string{
		"name": "Ada", "email": "ada@uni.edu", "password": "password123", "title": string(shared.RoleInstructor),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := "E20240001"
	self := shared.Principal{ID: id, Role: shared.RoleInstructor, Kind: shared.KindEmployee}

	rr = f.do(t, http.MethodGet, "/employees/"+id, self, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/employees/"+id, hrHead, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/employees/"+id+"/positions", hrHead, map[string]string{"title": string(shared.RoleHROfficer)})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	role, ok, err := f.service.CurrentRole(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, shared.RoleHROfficer, role)

	rr = f.do(t, http.MethodPatch, "/employees/"+id+"/positions/end", hrHead, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(t, http.MethodPatch, "/employees/"+id+"/positions/end", hrHead, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodDelete, "/employees/"+id, hrHead, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(t, http.MethodDelete, "/employees/"+id, hrHead, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, []string{
		audit.ActionCreateEmployee,
		audit.ActionEnsureEmployeeSelfAccess,
		audit.ActionAddPosition,
		audit.ActionEndPosition,
		audit.ActionDeleteEmployee,
	}, f.sink.actions())
}

func TestDeleteRejectsWrongKind(t *testing.T) {
	f := newFixture(t)
	student, err := f.service.CreateStudent(context.Background(), identity.NewStudent{Name: "Lin", Email: "lin@uni.edu", Password: "password123"})
	require.NoError(t, err)

	rr := f.do(t, http.MethodDelete, "/employees/"+student.ID, hrHead, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
