package eligibility

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ebridge/ebridge/internal/platform/api"
	"github.com/ebridge/ebridge/internal/session"
	"github.com/ebridge/ebridge/pkg/models"
)

type validatorFixture struct {
	srv        *httptest.Server
	store      *session.Store
	eligCalls  atomic.Int32
	authCalls  atomic.Int32
	authorized atomic.Bool
}

func newValidatorFixture(t *testing.T) *validatorFixture {
	t.Helper()
	f := &validatorFixture{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: api.AccessTokenCookie, Value: "tok", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: api.RefreshTokenCookie, Value: "ref", Path: "/"})
		writeTestEnvelope(w, http.StatusOK, nil)
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeTestEnvelope(w, http.StatusOK, models.User{ID: "1", Email: "a@b.com", Role: models.RoleDoctor})
	})
	mux.HandleFunc("GET /validator/eligibility/", func(w http.ResponseWriter, r *http.Request) {
		f.eligCalls.Add(1)
		code := strings.TrimPrefix(r.URL.Path, "/validator/eligibility/")
		writeTestEnvelope(w, http.StatusOK, models.Eligibility{
			MemberCode: code,
			Eligible:   code != "MEM-DENIED",
			Plan:       "gold",
			CheckedAt:  time.Now().UTC(),
		})
	})
	mux.HandleFunc("POST /validator/authorizations", func(w http.ResponseWriter, r *http.Request) {
		f.authCalls.Add(1)
		var req models.AuthorizationRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.authorized.Store(true)
		writeTestEnvelope(w, http.StatusCreated, models.Authorization{
			ID:            "auth-1",
			MemberCode:    req.MemberCode,
			ProcedureCode: req.ProcedureCode,
			Approved:      true,
			IssuedAt:      time.Now().UTC(),
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	client, err := api.New(f.srv.URL)
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	f.store = session.NewStore(client)
	t.Cleanup(f.store.Close)
	if err := f.store.Login(context.Background(), models.Credentials{Email: "a@b.com", Password: "secret"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return f
}

func writeTestEnvelope(w http.ResponseWriter, statusCode int, payload any) {
	inner := api.EnvelopeData{StatusCode: statusCode, Message: http.StatusText(statusCode)}
	if payload != nil {
		raw, _ := json.Marshal(payload)
		inner.Data = raw
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.Envelope{Success: statusCode < 400, StatusCode: statusCode, Data: inner})
}

func TestCheck_CachesPerMember(t *testing.T) {
	f := newValidatorFixture(t)
	v := NewValidator(f.store.Gateway())
	defer v.Close()

	for i := 0; i < 3; i++ {
		elig, err := v.Check(context.Background(), "MEM-001")
		if err != nil {
			t.Fatalf("Check #%d: %v", i, err)
		}
		if !elig.Eligible || elig.MemberCode != "MEM-001" {
			t.Fatalf("Check #%d = %+v", i, elig)
		}
	}
	if got := f.eligCalls.Load(); got != 1 {
		t.Fatalf("backend hit %d times for one member, want 1", got)
	}

	if _, err := v.Check(context.Background(), "MEM-002"); err != nil {
		t.Fatalf("Check other member: %v", err)
	}
	if got := f.eligCalls.Load(); got != 2 {
		t.Fatalf("backend hit %d times for two members, want 2", got)
	}
}

func TestCheck_CacheExpires(t *testing.T) {
	f := newValidatorFixture(t)
	v := NewValidator(f.store.Gateway(), WithCacheTTL(40*time.Millisecond))
	defer v.Close()

	if _, err := v.Check(context.Background(), "MEM-001"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, err := v.Check(context.Background(), "MEM-001"); err != nil {
		t.Fatalf("Check after expiry: %v", err)
	}
	if got := f.eligCalls.Load(); got != 2 {
		t.Fatalf("backend hit %d times across cache expiry, want 2", got)
	}
}

func TestCheck_RequiresMemberCode(t *testing.T) {
	f := newValidatorFixture(t)
	v := NewValidator(f.store.Gateway())
	defer v.Close()

	if _, err := v.Check(context.Background(), ""); err == nil {
		t.Fatal("Check accepted an empty member code")
	}
	if got := f.eligCalls.Load(); got != 0 {
		t.Fatalf("backend hit %d times for invalid input, want 0", got)
	}
}

func TestAuthorize_InvalidatesMemberCache(t *testing.T) {
	f := newValidatorFixture(t)
	v := NewValidator(f.store.Gateway())
	defer v.Close()

	if _, err := v.Check(context.Background(), "MEM-001"); err != nil {
		t.Fatalf("Check: %v", err)
	}

	auth, err := v.Authorize(context.Background(), models.AuthorizationRequest{
		MemberCode:    "MEM-001",
		ProcedureCode: "PROC-77",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !auth.Approved || auth.ID != "auth-1" {
		t.Fatalf("Authorize = %+v", auth)
	}

	// The follow-up check must go back to the backend.
	if _, err := v.Check(context.Background(), "MEM-001"); err != nil {
		t.Fatalf("Check after authorize: %v", err)
	}
	if got := f.eligCalls.Load(); got != 2 {
		t.Fatalf("backend hit %d times, want 2 (cache invalidated)", got)
	}
}

func TestAuthorize_RequiresCodes(t *testing.T) {
	f := newValidatorFixture(t)
	v := NewValidator(f.store.Gateway())
	defer v.Close()

	if _, err := v.Authorize(context.Background(), models.AuthorizationRequest{MemberCode: "MEM-001"}); err == nil {
		t.Fatal("Authorize accepted a request without a procedure code")
	}
	if got := f.authCalls.Load(); got != 0 {
		t.Fatalf("backend hit %d times for invalid input, want 0", got)
	}
}
