package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/ebridge/ebridge/internal/platform/api"
	"github.com/ebridge/ebridge/pkg/models"
)

// fakeBackend is an httptest double for the e-Bridge auth API. It issues
// opaque access tokens as cookies and can be told to expire them server-side
// (simulating token rotation the client has not seen yet) or to fail
// individual endpoints.
type fakeBackend struct {
	mu sync.Mutex

	loginCalls    int
	meCalls       int
	refreshCalls  int
	logoutCalls   int
	patientsCalls int

	tokenSeq int
	current  string // the only access-token value the server accepts

	refreshDelay   time.Duration
	refreshStatus  int // non-zero forces this status from /auth/refresh
	logoutStatus   int // non-zero forces this status from /auth/logout
	patientsStatus int // non-zero forces this status from /doctor/patients

	user models.User

	srv *httptest.Server
}

func newFakeBackend() *fakeBackend {
	fb := &fakeBackend{
		user: models.User{
			ID:        "1",
			Email:     "a@b.com",
			FirstName: "Ana",
			LastName:  "Bolena",
			Role:      models.RoleDoctor,
			IsActive:  true,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", fb.handleLogin)
	mux.HandleFunc("GET /auth/me", fb.handleMe)
	mux.HandleFunc("POST /auth/refresh", fb.handleRefresh)
	mux.HandleFunc("POST /auth/logout", fb.handleLogout)
	mux.HandleFunc("POST /auth/register/doctor", fb.handleRegister)
	mux.HandleFunc("POST /auth/register/admin", fb.handleRegister)
	mux.HandleFunc("GET /doctor/patients", fb.handlePatients)
	fb.srv = httptest.NewServer(mux)
	return fb
}

func (fb *fakeBackend) Close() { fb.srv.Close() }

// expireAccess rotates the accepted token server-side without telling the
// client, so its next request is rejected with 401 until it refreshes.
func (fb *fakeBackend) expireAccess() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.tokenSeq++
	fb.current = fmt.Sprintf("tok-%d", fb.tokenSeq)
}

func (fb *fakeBackend) counts() (login, me, refresh, logout, patients int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.loginCalls, fb.meCalls, fb.refreshCalls, fb.logoutCalls, fb.patientsCalls
}

func (fb *fakeBackend) issueToken(w http.ResponseWriter) {
	fb.tokenSeq++
	fb.current = fmt.Sprintf("tok-%d", fb.tokenSeq)
	http.SetCookie(w, &http.Cookie{Name: api.AccessTokenCookie, Value: fb.current, Path: "/", HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: api.RefreshTokenCookie, Value: "refresh-" + fb.current, Path: "/", HttpOnly: true})
}

func (fb *fakeBackend) authorized(r *http.Request) bool {
	ck, err := r.Cookie(api.AccessTokenCookie)
	return err == nil && fb.current != "" && ck.Value == fb.current
}

func (fb *fakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.loginCalls++

	var creds models.Credentials
	json.NewDecoder(r.Body).Decode(&creds)
	if creds.Password == "wrong" {
		writeEnvelope(w, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}
	fb.issueToken(w)
	writeEnvelope(w, http.StatusOK, "login successful", nil)
}

func (fb *fakeBackend) handleMe(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.meCalls++

	if !fb.authorized(r) {
		writeEnvelope(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "ok", fb.user)
}

func (fb *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	fb.refreshCalls++
	delay := fb.refreshDelay
	status := fb.refreshStatus
	fb.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if status != 0 {
		writeEnvelope(w, status, "refresh rejected", nil)
		return
	}
	fb.issueToken(w)
	writeEnvelope(w, http.StatusOK, "refreshed", nil)
}

func (fb *fakeBackend) handleLogout(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.logoutCalls++

	if fb.logoutStatus != 0 {
		writeEnvelope(w, fb.logoutStatus, "logout failed", nil)
		return
	}
	fb.current = ""
	writeEnvelope(w, http.StatusOK, "logged out", nil)
}

func (fb *fakeBackend) handleRegister(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusCreated, "created", nil)
}

func (fb *fakeBackend) handlePatients(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.patientsCalls++

	if fb.patientsStatus != 0 {
		writeEnvelope(w, fb.patientsStatus, "forced failure", nil)
		return
	}
	if !fb.authorized(r) {
		writeEnvelope(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "ok", map[string]any{
		"patients": []string{"patient-1", "patient-2"},
	})
}

func writeEnvelope(w http.ResponseWriter, statusCode int, message string, payload any) {
	inner := api.EnvelopeData{StatusCode: statusCode, Message: message}
	if payload != nil {
		raw, _ := json.Marshal(payload)
		inner.Data = raw
	}
	env := api.Envelope{Success: statusCode < 400, StatusCode: statusCode, Data: inner}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(env)
}
