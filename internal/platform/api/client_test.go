package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func envelopeBody(statusCode int, message string, payload any) []byte {
	inner := EnvelopeData{StatusCode: statusCode, Message: message}
	if payload != nil {
		raw, _ := json.Marshal(payload)
		inner.Data = raw
	}
	env := Envelope{Success: statusCode < 400, StatusCode: statusCode, Data: inner}
	out, _ := json.Marshal(env)
	return out
}

func TestDo_DecodesNestedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(envelopeBody(200, "ok", map[string]string{"id": "1", "email": "a@b.com"}))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := c.Do(context.Background(), http.MethodGet, "/auth/me", nil, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ID != "1" || out.Email != "a@b.com" {
		t.Errorf("unexpected payload: %+v", out)
	}
}

func TestDo_SendsJSONBody(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %s", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write(envelopeBody(200, "ok", nil))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	body := map[string]string{"email": "a@b.com", "password": "Secret123"}
	if err := c.Do(context.Background(), http.MethodPost, "/auth/login", body, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["email"] != "a@b.com" {
		t.Errorf("expected body to reach server, got %v", got)
	}
}

func TestDo_TypedErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write(envelopeBody(401, "token expired", nil))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	err := c.Do(context.Background(), http.MethodGet, "/auth/me", nil, nil)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "token expired" {
		t.Errorf("expected server message, got %q", apiErr.Message)
	}
	if !apiErr.Unauthorized() {
		t.Error("expected Unauthorized() to be true")
	}
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Error("expected IsStatus to match 401")
	}
	if IsStatus(err, http.StatusForbidden) {
		t.Error("expected IsStatus not to match 403")
	}
}

func TestDo_NonEnvelopeErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	err := c.Do(context.Background(), http.MethodGet, "/doctor/patients", nil, nil)
	if !IsStatus(err, http.StatusBadGateway) {
		t.Fatalf("expected 502 error, got %v", err)
	}
}

func TestDo_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write(envelopeBody(200, "ok", nil))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, WithTimeout(20*time.Millisecond))
	err := c.Do(context.Background(), http.MethodGet, "/auth/me", nil, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	if _, err := New("not-a-url"); err == nil {
		t.Error("expected error for URL without scheme")
	}
}

func TestCookies_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			http.SetCookie(w, &http.Cookie{Name: AccessTokenCookie, Value: "tok-a", Path: "/"})
			http.SetCookie(w, &http.Cookie{Name: RefreshTokenCookie, Value: "tok-r", Path: "/"})
			w.Write(envelopeBody(200, "ok", nil))
		case "/auth/me":
			if ck, err := r.Cookie(AccessTokenCookie); err != nil || ck.Value != "tok-a" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write(envelopeBody(401, "missing cookie", nil))
				return
			}
			w.Write(envelopeBody(200, "ok", map[string]string{"id": "1"}))
		}
	}))
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "cookies.json")

	c1, _ := New(srv.URL)
	if err := c1.Do(context.Background(), http.MethodPost, "/auth/login", nil, nil); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !c1.HasSessionCookies() {
		t.Fatal("expected session cookies after login")
	}
	if err := c1.SaveCookies(file); err != nil {
		t.Fatalf("save cookies: %v", err)
	}

	// A fresh client restored from disk should be authenticated.
	c2, _ := New(srv.URL)
	if err := c2.LoadCookies(file); err != nil {
		t.Fatalf("load cookies: %v", err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c2.Do(context.Background(), http.MethodGet, "/auth/me", nil, &out); err != nil {
		t.Fatalf("me after restore: %v", err)
	}
	if out.ID != "1" {
		t.Errorf("expected user id 1, got %q", out.ID)
	}

	if err := c2.ClearCookies(file); err != nil {
		t.Fatalf("clear cookies: %v", err)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Error("expected cookie file to be removed")
	}
}

func TestLoadCookies_MissingFileIsNotAnError(t *testing.T) {
	c, _ := New("http://localhost:1")
	if err := c.LoadCookies(filepath.Join(t.TempDir(), "nope.json")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: AccessTokenCookie, Value: signed, Path: "/"})
		w.Write(envelopeBody(200, "ok", nil))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	if got := c.AccessTokenExpiry(); !got.IsZero() {
		t.Errorf("expected zero expiry before any cookie, got %s", got)
	}

	if err := c.Do(context.Background(), http.MethodPost, "/auth/login", nil, nil); err != nil {
		t.Fatalf("login: %v", err)
	}
	got := c.AccessTokenExpiry()
	if !got.Equal(exp) {
		t.Errorf("expected expiry %s, got %s", exp, got)
	}
}

func TestAccessTokenExpiry_NonJWTCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: AccessTokenCookie, Value: "opaque-value", Path: "/"})
		w.Write(envelopeBody(200, "ok", nil))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	c.Do(context.Background(), http.MethodPost, "/auth/login", nil, nil)
	if got := c.AccessTokenExpiry(); !got.IsZero() {
		t.Errorf("expected zero expiry for opaque cookie, got %s", got)
	}
}
