package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"carebook/internal/authstate"
	"carebook/internal/completion"
	"carebook/internal/config"
	"carebook/internal/identity"
	"carebook/internal/patients"
	"carebook/internal/platform/logging"
	"carebook/internal/profile"
	"carebook/internal/session"
	"carebook/internal/store"
)

// usersUnreachable fails every read below users/ and passes the rest through.
type usersUnreachable struct {
	*store.MemoryStore
}

func (s usersUnreachable) Read(ctx context.Context, path string) (store.Record, error) {
	if strings.HasPrefix(path, "users/") {
		return nil, &store.Error{Kind: store.KindUnreachable, Op: "read", Path: path}
	}
	return s.MemoryStore.Read(ctx, path)
}

type testEnv struct {
	router   http.Handler
	records  store.Store
	manager  *session.Manager
	accounts *identity.PasswordAuthenticator
	patients *patients.Service
	cookie   *http.Cookie
}

type envOption func(*envConfig)

type envConfig struct {
	records  store.Store
	resolver authstate.Resolver
	settle   time.Duration
}

func withRecords(s store.Store) envOption {
	return func(c *envConfig) { c.records = s }
}

func withResolver(r authstate.Resolver) envOption {
	return func(c *envConfig) { c.resolver = r }
}

func withSettle(d time.Duration) envOption {
	return func(c *envConfig) { c.settle = d }
}

const testMaxAnonymous = 16

func testConfig(settle time.Duration) config.Config {
	return config.Config{
		Environment:        "development",
		DataStore:          "memory",
		AllowedOrigins:     []string{"http://localhost:3000"},
		FrontendURL:        "http://frontend.test",
		SessionTTL:         time.Hour,
		GuardSettleTimeout: settle,
		PhoneRegion:        "IN",
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	ec := envConfig{records: store.NewMemoryStore(nil), settle: time.Second}
	for _, opt := range opts {
		opt(&ec)
	}
	repo := profile.NewRepository(ec.records)
	if ec.resolver == nil {
		ec.resolver = repo
	}

	issuer, err := identity.NewTokenIssuer("test-key")
	if err != nil {
		t.Fatalf("NewTokenIssuer returned error: %v", err)
	}
	accounts := identity.NewPasswordAuthenticator(ec.records, bcrypt.MinCost)
	manager := session.NewManager(ec.records, ec.resolver, session.Options{
		TTL:           time.Hour,
		MaxAnonymous:  testMaxAnonymous,
		Authenticator: accounts,
		Tokens:        issuer,
		Logger:        logging.Discard(),
	})
	t.Cleanup(manager.Close)

	patientSvc := patients.NewService(ec.records, repo)
	router := NewRouter(testConfig(ec.settle), Services{
		Sessions:   manager,
		Accounts:   accounts,
		Completion: completion.NewWriter(repo, "IN", logging.Discard()),
		Patients:   patientSvc,
	}, logging.Discard())

	return &testEnv{
		router:   router,
		records:  ec.records,
		manager:  manager,
		accounts: accounts,
		patients: patientSvc,
	}
}

// do sends a request carrying the env's client cookie and remembers a newly issued one.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name != clientCookieName {
			continue
		}
		if c.MaxAge < 0 {
			e.cookie = nil
		} else {
			e.cookie = c
		}
	}
	return rec
}

func (e *testEnv) register(t *testing.T, email string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/register", map[string]string{
		"email":       email,
		"password":    "secret123",
		"displayName": "Asha Rao",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func expectRedirect(t *testing.T, rec *httptest.ResponseRecorder, location string) {
	t.Helper()
	if rec.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != location {
		t.Fatalf("expected redirect to %q, got %q", location, got)
	}
}

func stateStatus(t *testing.T, body map[string]any) string {
	t.Helper()
	state, ok := body["state"].(map[string]any)
	if !ok {
		t.Fatalf("expected state object, got %v", body)
	}
	status, _ := state["status"].(string)
	return status
}
