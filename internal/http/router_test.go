package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carebook/internal/patients"
	"carebook/internal/profile"
	"carebook/internal/session"
	"carebook/internal/store"
)

type blockingResolver struct {
	release chan struct{}
}

func (b blockingResolver) Lookup(ctx context.Context, _ string) (profile.Profile, error) {
	select {
	case <-b.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func completeProfileBody(role string) map[string]any {
	return map[string]any{
		"role": role,
		"profile": map[string]string{
			"firstName": "Asha",
			"lastName":  "Rao",
			"gender":    "female",
			"mobNo":     "+91 98765 43210",
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Fatalf("unexpected health body %v", body)
	}
	if env.cookie != nil {
		t.Fatal("health checks must not issue client cookies")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/login", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestUnauthenticatedDashboardRedirectsToLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/dashboard", nil)
	expectRedirect(t, rec, "/login")
	if env.cookie == nil {
		t.Fatal("expected a client cookie to be issued")
	}

	rec = env.do(t, http.MethodGet, "/patient/PATIENT_U1", nil)
	expectRedirect(t, rec, "/login")
}

func TestUnauthenticatedAuthRoutesRender(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/", "/login", "/register", "/complete-profile"} {
		rec := env.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rec.Code)
		}
	}
}

func TestCookielessRequestsKeepRuntimesBounded(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "asha@example.com")
	signedIn := env.cookie

	for i := 0; i < 200; i++ {
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
	}

	if got := env.manager.Len(); got > testMaxAnonymous+1 {
		t.Fatalf("expected at most %d runtimes, got %d", testMaxAnonymous+1, got)
	}

	env.cookie = signedIn
	rec := env.do(t, http.MethodGet, "/api/session", nil)
	if status := stateStatus(t, decodeBody(t, rec)); status != "authenticated-no-profile" {
		t.Fatalf("signed-in client must survive anonymous traffic, got %q", status)
	}
}

func TestRegisteredUserWithoutProfileIsSentToCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "asha@example.com")

	for _, path := range []string{"/dashboard", "/login", "/"} {
		rec := env.do(t, http.MethodGet, path, nil)
		expectRedirect(t, rec, "/complete-profile")
	}

	rec := env.do(t, http.MethodGet, "/complete-profile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["signedIn"] != true {
		t.Fatalf("expected signed-in completion form, got %v", body)
	}
}

func TestProfileCompletionFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "asha@example.com")

	rec := env.do(t, http.MethodPost, "/api/profile", completeProfileBody("patient"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if got := stateStatus(t, body); got != "authenticated-with-profile" {
		t.Fatalf("expected authenticated-with-profile, got %q", got)
	}
	if body["redirectTo"] != "/dashboard" {
		t.Fatalf("expected redirectTo /dashboard, got %v", body["redirectTo"])
	}

	expectRedirect(t, env.do(t, http.MethodGet, "/login", nil), "/dashboard")
	expectRedirect(t, env.do(t, http.MethodGet, "/register", nil), "/dashboard")
	expectRedirect(t, env.do(t, http.MethodGet, "/complete-profile", nil), "/dashboard")

	rec = env.do(t, http.MethodGet, "/dashboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	dash := decodeBody(t, rec)
	if dash["view"] != "patient" {
		t.Fatalf("expected patient dashboard, got %v", dash)
	}

	rec = env.do(t, http.MethodPost, "/api/profile", completeProfileBody("doctor"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for a second completion, got %d", rec.Code)
	}
}

func TestProfileCompletionRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "asha@example.com")

	body := completeProfileBody("nurse")
	rec := env.do(t, http.MethodPost, "/api/profile", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
	fields, ok := decodeBody(t, rec)["fields"].(map[string]any)
	if !ok || fields["role"] == nil {
		t.Fatalf("expected role field error, got %v", fields)
	}
}

func TestProfileCompletionRequiresSignIn(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/profile", completeProfileBody("patient"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestUnreachableProfileStoreFallsBackToCompletion(t *testing.T) {
	env := newTestEnv(t, withRecords(usersUnreachable{store.NewMemoryStore(nil)}))
	env.register(t, "ravi@example.com")

	rec := env.do(t, http.MethodGet, "/api/session", nil)
	if got := stateStatus(t, decodeBody(t, rec)); got != "authenticated-no-profile" {
		t.Fatalf("expected authenticated-no-profile, got %q", got)
	}
	expectRedirect(t, env.do(t, http.MethodGet, "/dashboard", nil), "/complete-profile")

	rec = env.do(t, http.MethodPost, "/api/profile", completeProfileBody("patient"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["retryable"] != true {
		t.Fatalf("expected retryable error, got %v", body)
	}

	rec = env.do(t, http.MethodGet, "/api/session", nil)
	if got := stateStatus(t, decodeBody(t, rec)); got != "authenticated-no-profile" {
		t.Fatalf("failed write must leave the state alone, got %q", got)
	}
}

func TestGuardReportsLoadingWhileResolving(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, withResolver(blockingResolver{release: release}), withSettle(10*time.Millisecond))
	env.register(t, "asha@example.com")

	rec := env.do(t, http.MethodGet, "/dashboard", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	close(release)
	client, err := env.manager.Attach(context.Background(), env.cookie.Value, session.Meta{})
	if err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}
	client.Observer.Wait()

	expectRedirect(t, env.do(t, http.MethodGet, "/dashboard", nil), "/complete-profile")
}

func TestPatientPageAccess(t *testing.T) {
	env := newTestEnv(t)
	if err := env.patients.Put(context.Background(), patients.Record{ID: "PATIENT_OTHER", Name: "Someone Else"}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	env.register(t, "asha@example.com")
	if rec := env.do(t, http.MethodPost, "/api/profile", completeProfileBody("patient")); rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/patient/PATIENT_OTHER", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for another patient's record, got %d", rec.Code)
	}

	doctor := newTestEnv(t, withRecords(env.records))
	doctor.register(t, "doctor@example.com")
	if rec := doctor.do(t, http.MethodPost, "/api/profile", completeProfileBody("doctor")); rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}

	rec = doctor.do(t, http.MethodGet, "/patient/PATIENT_OTHER", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for an unassigned doctor, got %d", rec.Code)
	}
}

func newDoctorEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.register(t, "doctor@example.com")
	if rec := env.do(t, http.MethodPost, "/api/profile", completeProfileBody("doctor")); rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	return env
}

func createdPatientID(t *testing.T, body map[string]any) string {
	t.Helper()
	rec, ok := body["patient"].(map[string]any)
	if !ok {
		t.Fatalf("expected patient object, got %v", body)
	}
	id, _ := rec["id"].(string)
	if id == "" {
		t.Fatalf("expected patient id, got %v", rec)
	}
	return id
}

func TestDoctorAddsAndRemovesPatient(t *testing.T) {
	env := newDoctorEnv(t)

	rec := env.do(t, http.MethodPost, "/api/patients", map[string]any{"name": "Kiran Das", "gender": "male"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	id := createdPatientID(t, decodeBody(t, rec))

	rec = env.do(t, http.MethodGet, "/patient/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for an assigned record, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/dashboard", nil)
	assigned, _ := decodeBody(t, rec)["assignedPatients"].([]any)
	if len(assigned) != 1 || assigned[0] != id {
		t.Fatalf("expected %s on the dashboard, got %v", id, assigned)
	}

	rec = env.do(t, http.MethodDelete, "/api/patients/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/patient/"+id, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 after removal, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/patients/"+id, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for a removed record, got %d", rec.Code)
	}
}

func TestRemovingMissingPatientClearsAssignment(t *testing.T) {
	env := newDoctorEnv(t)

	rec := env.do(t, http.MethodPost, "/api/patients", map[string]any{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	id := createdPatientID(t, decodeBody(t, rec))
	path, _ := store.PatientPath(id)
	if err := env.records.Delete(context.Background(), path); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	rec = env.do(t, http.MethodDelete, "/api/patients/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/dashboard", nil)
	if assigned, _ := decodeBody(t, rec)["assignedPatients"].([]any); len(assigned) != 0 {
		t.Fatalf("expected no assignments, got %v", assigned)
	}
}

func TestPatientCannotManageRecords(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "asha@example.com")
	if rec := env.do(t, http.MethodPost, "/api/profile", completeProfileBody("patient")); rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/patients", map[string]any{"name": "Kiran Das"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/patients/PATIENT_OTHER", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
}

func TestPatientEndpointsRequireProfile(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/patients", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without sign-in, got %d", rec.Code)
	}

	env.register(t, "asha@example.com")
	rec = env.do(t, http.MethodPost, "/api/patients", map[string]any{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 without a profile, got %d", rec.Code)
	}
}

func TestAddPatientRejectsInvalidInput(t *testing.T) {
	env := newDoctorEnv(t)

	rec := env.do(t, http.MethodPost, "/api/patients", map[string]any{"dob": "yesterday"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
	fields, _ := decodeBody(t, rec)["fields"].(map[string]any)
	if _, ok := fields["dob"]; !ok {
		t.Fatalf("expected dob error, got %v", fields)
	}
}
