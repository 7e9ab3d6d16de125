package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sayuricruzv/project-YeyosFitness/internal/auth"
	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
	"github.com/sayuricruzv/project-YeyosFitness/internal/repository"
	"github.com/sayuricruzv/project-YeyosFitness/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type testAPI struct {
	t        *testing.T
	router   http.Handler
	verifier *auth.Verifier
	signer   *CheckInSigner
}

func setupTestAPI(t *testing.T, limiter *RateLimiter) *testAPI {
	t.Helper()
	mem := repository.NewMemoryBackend()
	svc := service.NewReservationService(service.Stores{
		Classes:      mem.Classes,
		Ledger:       mem.Ledger,
		Reservations: mem.Reservations,
		Waitlist:     mem.Waitlist,
	}, service.Options{LockTimeout: time.Second, RetryBackoff: time.Millisecond})
	t.Cleanup(svc.Wait)

	signer := NewCheckInSigner(testSecret)
	verifier := auth.NewVerifier(testSecret)
	router := NewRouter(NewClassHandler(svc, signer), RouterConfig{
		Verifier:    verifier,
		Limiter:     limiter,
		CORSOrigins: []string{"*"},
	})
	return &testAPI{t: t, router: router, verifier: verifier, signer: signer}
}

func (a *testAPI) token(userID, role string) string {
	a.t.Helper()
	tok, err := a.verifier.Sign(auth.Identity{UserID: userID, Role: role}, time.Hour)
	require.NoError(a.t, err)
	return tok
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) publish(capacity int) model.ClassInstance {
	a.t.Helper()
	start := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	rec := a.do(http.MethodPost, "/classes", a.token("coach", auth.RoleAdmin), model.PublishClassRequest{
		Name:     "Kettlebells",
		Coach:    "Sam",
		StartsAt: start,
		EndsAt:   start.Add(time.Hour),
		Capacity: capacity,
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())

	var class model.ClassInstance
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &class))
	return class
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	api := setupTestAPI(t, nil)

	rec := api.do(http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestAuthentication(t *testing.T) {
	api := setupTestAPI(t, nil)

	rec := api.do(http.MethodGet, "/classes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodGet, "/classes", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodGet, "/classes", api.token("alice", auth.RoleClient), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublishClass_AdminOnly(t *testing.T) {
	api := setupTestAPI(t, nil)

	rec := api.do(http.MethodPost, "/classes", api.token("alice", auth.RoleClient), model.PublishClassRequest{Name: "Yoga"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/classes", api.token("coach", auth.RoleAdmin), model.PublishClassRequest{Name: "Yoga"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.CodeInvalidInput, decode[model.ErrorResponse](t, rec).Code)

	class := api.publish(10)
	assert.NotEmpty(t, class.ID)
	assert.Equal(t, 10, class.Capacity)
}

func TestReserveFlow(t *testing.T) {
	api := setupTestAPI(t, nil)
	class := api.publish(1)
	alice := api.token("alice", auth.RoleClient)
	bob := api.token("bob", auth.RoleClient)

	rec := api.do(http.MethodPost, "/classes/"+class.ID+"/reservations", alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[model.Reservation](t, rec)
	assert.Equal(t, "alice", res.UserID)
	assert.Equal(t, model.StatusHeld, res.Status)

	rec = api.do(http.MethodPost, "/classes/"+class.ID+"/reservations", alice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, service.CodeDuplicate, decode[model.ErrorResponse](t, rec).Code)

	rec = api.do(http.MethodPost, "/classes/"+class.ID+"/reservations", bob, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, service.CodeFull, decode[model.ErrorResponse](t, rec).Code)

	rec = api.do(http.MethodPost, "/classes/"+class.ID+"/reservations", bob, model.ReserveRequest{WaitlistOnFull: true})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	entry := decode[model.WaitlistEntry](t, rec)
	assert.Equal(t, "bob", entry.UserID)

	rec = api.do(http.MethodGet, "/classes/"+class.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	av := decode[model.ClassAvailability](t, rec)
	assert.Equal(t, 1, av.HeldCount)
	assert.False(t, av.Available)

	rec = api.do(http.MethodGet, "/reservations/"+res.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/reservations/"+res.ID+"/cancel", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.StatusCancelled, decode[model.Reservation](t, rec).Status)

	rec = api.do(http.MethodGet, "/me/reservations", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]model.Reservation](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, model.StatusHeld, mine[0].Status)

	rec = api.do(http.MethodGet, "/me/waitlist", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestReserve_OnBehalfOfAnotherUser(t *testing.T) {
	api := setupTestAPI(t, nil)
	class := api.publish(5)

	rec := api.do(http.MethodPost, "/classes/"+class.ID+"/reservations", api.token("alice", auth.RoleClient), model.ReserveRequest{UserID: "bob"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/classes/"+class.ID+"/reservations", api.token("desk", auth.RoleAdmin), model.ReserveRequest{UserID: "bob"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "bob", decode[model.Reservation](t, rec).UserID)
}

func TestReserve_UnknownClass(t *testing.T) {
	api := setupTestAPI(t, nil)

	rec := api.do(http.MethodPost, "/classes/missing/reservations", api.token("alice", auth.RoleClient), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, service.CodeNotFound, decode[model.ErrorResponse](t, rec).Code)
}

func TestWaitlistEndpoints(t *testing.T) {
	api := setupTestAPI(t, nil)
	class := api.publish(1)
	alice := api.token("alice", auth.RoleClient)
	bob := api.token("bob", auth.RoleClient)

	rec := api.do(http.MethodPost, "/classes/"+class.ID+"/reservations", alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(http.MethodPost, "/classes/"+class.ID+"/waitlist", bob, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPost, "/classes/"+class.ID+"/waitlist", bob, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodGet, "/classes/"+class.ID+"/roster", bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/classes/"+class.ID+"/roster", api.token("coach", auth.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	roster := decode[model.ClassRoster](t, rec)
	assert.Len(t, roster.Reservations, 1)
	assert.Len(t, roster.Waitlist, 1)

	rec = api.do(http.MethodPost, "/classes/"+class.ID+"/waitlist/promote", api.token("coach", auth.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[model.PromotionResult](t, rec).Promoted)

	rec = api.do(http.MethodDelete, "/classes/"+class.ID+"/waitlist", bob, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(http.MethodDelete, "/classes/"+class.ID+"/waitlist", bob, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListClasses_BadRange(t *testing.T) {
	api := setupTestAPI(t, nil)
	alice := api.token("alice", auth.RoleClient)

	rec := api.do(http.MethodGet, "/classes?from=yesterday", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/classes?from=2026-05-10&to=2026-05-01", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.publish(3)
	rec = api.do(http.MethodGet, "/classes", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ClassAvailability](t, rec), 1)
}

func TestCheckInQR(t *testing.T) {
	api := setupTestAPI(t, nil)
	class := api.publish(2)
	alice := api.token("alice", auth.RoleClient)
	admin := api.token("desk", auth.RoleAdmin)

	rec := api.do(http.MethodPost, "/classes/"+class.ID+"/reservations", alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[model.Reservation](t, rec)

	rec = api.do(http.MethodGet, "/reservations/"+res.ID+"/qr", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	payload := api.signer.Payload(res)
	id, err := api.signer.Verify(payload)
	require.NoError(t, err)
	assert.Equal(t, res.ID, id)

	// The class has not started yet, so attendance is rejected.
	rec = api.do(http.MethodPost, "/checkin", admin, checkInRequest{Payload: payload})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, service.CodeInvalidState, decode[model.ErrorResponse](t, rec).Code)

	tampered := strings.Replace(payload, res.ID, "00000000-0000-0000-0000-000000000000", 1)
	rec = api.do(http.MethodPost, "/checkin", admin, checkInRequest{Payload: tampered})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/reservations/"+res.ID+"/cancel", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(http.MethodGet, "/reservations/"+res.ID+"/qr", alice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMarkAttendance_RequiresAttendedField(t *testing.T) {
	api := setupTestAPI(t, nil)
	class := api.publish(2)
	alice := api.token("alice", auth.RoleClient)
	admin := api.token("desk", auth.RoleAdmin)

	rec := api.do(http.MethodPost, "/classes/"+class.ID+"/reservations", alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[model.Reservation](t, rec)
	path := "/reservations/" + res.ID + "/attendance"

	for name, body := range map[string]any{"no body": nil, "empty object": map[string]any{}} {
		rec = api.do(http.MethodPost, path, admin, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, service.CodeInvalidInput, decode[model.ErrorResponse](t, rec).Code, name)
	}

	rec = api.do(http.MethodGet, "/reservations/"+res.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusHeld, decode[model.Reservation](t, rec).Status)

	// A well-formed request reaches the service, which rejects it before start.
	attended := false
	rec = api.do(http.MethodPost, path, admin, model.AttendanceRequest{Attended: &attended})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, service.CodeInvalidState, decode[model.ErrorResponse](t, rec).Code)
}

func TestCheckInSigner_RejectsMalformed(t *testing.T) {
	s := NewCheckInSigner(testSecret)

	for _, payload := range []string{"", "a|b|c", "a|b|notanumber|sig"} {
		_, err := s.Verify(payload)
		assert.ErrorIs(t, err, service.ErrInvalidInput, payload)
	}

	other := NewCheckInSigner("another-secret")
	_, err := s.Verify(other.Payload(model.Reservation{ID: "r1", ClassID: "c1"}))
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestRateLimiter(t *testing.T) {
	api := setupTestAPI(t, NewRateLimiter(1, 2))
	alice := api.token("alice", auth.RoleClient)

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/classes", alice, nil).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/classes", alice, nil).Code)

	rec := api.do(http.MethodGet, "/classes", alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Health checks bypass the limiter.
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/health", "", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	api := setupTestAPI(t, nil)
	api.do(http.MethodGet, "/health", "", nil)

	rec := api.do(http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
