// Package server implements the standalone e-Bridge auth and validator
// backend: cookie sessions for the client SDK, account registration, and
// the insurance validator endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ebridge/ebridge/internal/config"
	"github.com/ebridge/ebridge/internal/platform/api"
	"github.com/ebridge/ebridge/internal/platform/metrics"
	"github.com/ebridge/ebridge/internal/platform/middleware"
	"github.com/ebridge/ebridge/pkg/models"
)

const claimsKey = "auth_claims"

// Server is the standalone backend.
type Server struct {
	cfg       *config.Config
	log       zerolog.Logger
	echo      *echo.Echo
	users     UserStore
	sessions  *SessionStore
	validator *ValidatorService
}

// New wires the echo instance, middleware and routes.
func New(cfg *config.Config, users UserStore, validator *ValidatorService, log zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		users:     users,
		sessions:  NewSessionStore(cfg.RefreshTokenTTL),
		validator: validator,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.Recovery(log))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(log))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             int(cfg.RateLimitRPS * 2),
	}))

	auth := e.Group("/auth")
	auth.POST("/login", s.handleLogin)
	auth.POST("/refresh", s.handleRefresh)
	auth.POST("/logout", s.handleLogout)
	auth.POST("/register/doctor", s.handleRegisterDoctor)
	auth.POST("/register/admin", s.handleRegisterAdmin)
	auth.GET("/me", s.handleMe, s.requireAuth)

	validatorGroup := e.Group("/validator", s.requireAuth)
	validatorGroup.GET("/eligibility/:code", s.handleEligibility)
	validatorGroup.POST("/authorizations", s.handleAuthorize)

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	s.echo = e
	return s
}

// Handler exposes the http.Handler, used by tests and by Start.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(":" + s.cfg.Port)
	}()
	s.log.Info().Str("port", s.cfg.Port).Msg("server started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.sessions.Close()
	return s.echo.Shutdown(shutdownCtx)
}

// --- auth handlers ---

func (s *Server) handleLogin(c echo.Context) error {
	var creds models.Credentials
	if err := c.Bind(&creds); err != nil {
		return respondError(c, http.StatusBadRequest, "malformed request body")
	}
	if creds.Email == "" || creds.Password == "" {
		return respondError(c, http.StatusBadRequest, "email and password are required")
	}

	acct, err := s.users.GetByEmail(c.Request().Context(), creds.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return respondError(c, http.StatusUnauthorized, "invalid credentials")
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	if !verifyPassword(creds.Password, acct.PasswordHash) {
		return respondError(c, http.StatusUnauthorized, "invalid credentials")
	}
	if !acct.User.IsActive {
		return respondError(c, http.StatusForbidden, "account is deactivated")
	}

	if err := s.issueSession(c, &acct.User); err != nil {
		return err
	}
	s.log.Info().Str("user_id", acct.User.ID).Msg("login")
	return respond(c, http.StatusOK, "login successful", nil)
}

func (s *Server) handleRefresh(c echo.Context) error {
	ck, err := c.Cookie(api.RefreshTokenCookie)
	if err != nil || ck.Value == "" {
		return respondError(c, http.StatusUnauthorized, "missing refresh token")
	}

	userID, ok := s.sessions.Consume(ck.Value)
	if !ok {
		s.clearSessionCookies(c)
		return respondError(c, http.StatusUnauthorized, "refresh token expired or revoked")
	}

	user, err := s.users.GetByID(c.Request().Context(), userID)
	if err != nil {
		s.clearSessionCookies(c)
		if errors.Is(err, ErrNotFound) {
			return respondError(c, http.StatusUnauthorized, "account no longer exists")
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	if !user.IsActive {
		s.clearSessionCookies(c)
		return respondError(c, http.StatusForbidden, "account is deactivated")
	}

	if err := s.issueSession(c, user); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "session refreshed", nil)
}

func (s *Server) handleLogout(c echo.Context) error {
	if ck, err := c.Cookie(api.RefreshTokenCookie); err == nil && ck.Value != "" {
		s.sessions.Revoke(ck.Value)
	}
	s.clearSessionCookies(c)
	return respond(c, http.StatusOK, "logged out", nil)
}

func (s *Server) handleMe(c echo.Context) error {
	claims := c.Get(claimsKey).(*accessClaims)
	user, err := s.users.GetByID(c.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return respondError(c, http.StatusUnauthorized, "account no longer exists")
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	return respond(c, http.StatusOK, "ok", user)
}

func (s *Server) handleRegisterDoctor(c echo.Context) error {
	var reg models.DoctorRegistration
	if err := c.Bind(&reg); err != nil {
		return respondError(c, http.StatusBadRequest, "malformed request body")
	}
	if reg.Email == "" || reg.Password == "" || reg.LicenseNumber == "" {
		return respondError(c, http.StatusBadRequest, "email, password and license number are required")
	}

	user := models.User{
		ID:        uuid.NewString(),
		Email:     reg.Email,
		FirstName: reg.FirstName,
		LastName:  reg.LastName,
		Role:      models.RoleDoctor,
		IsActive:  true,
		Doctor: &models.DoctorProfile{
			ID:             uuid.NewString(),
			LicenseNumber:  reg.LicenseNumber,
			Specialty:      reg.Specialty,
			ConsultoryRoom: reg.ConsultoryRoom,
		},
	}
	return s.createAccount(c, user, reg.Password)
}

func (s *Server) handleRegisterAdmin(c echo.Context) error {
	var reg models.AdminRegistration
	if err := c.Bind(&reg); err != nil {
		return respondError(c, http.StatusBadRequest, "malformed request body")
	}
	if reg.Email == "" || reg.Password == "" {
		return respondError(c, http.StatusBadRequest, "email and password are required")
	}

	user := models.User{
		ID:        uuid.NewString(),
		Email:     reg.Email,
		FirstName: reg.FirstName,
		LastName:  reg.LastName,
		Role:      models.RoleAdmin,
		IsActive:  true,
		Admin: &models.AdminProfile{
			ID:         uuid.NewString(),
			Department: reg.Department,
		},
	}
	return s.createAccount(c, user, reg.Password)
}

func (s *Server) createAccount(c echo.Context, user models.User, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.Create(c.Request().Context(), user, hash); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return respondError(c, http.StatusConflict, "email already registered")
		}
		return fmt.Errorf("create account: %w", err)
	}
	s.log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("account created")
	return respond(c, http.StatusCreated, "account created", user)
}

// --- validator handlers ---

func (s *Server) handleEligibility(c echo.Context) error {
	code := c.Param("code")
	if code == "" {
		return respondError(c, http.StatusBadRequest, "member code is required")
	}
	return respond(c, http.StatusOK, "ok", s.validator.Check(code))
}

func (s *Server) handleAuthorize(c echo.Context) error {
	var req models.AuthorizationRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, "malformed request body")
	}
	if req.MemberCode == "" || req.ProcedureCode == "" {
		return respondError(c, http.StatusBadRequest, "member code and procedure code are required")
	}

	claims := c.Get(claimsKey).(*accessClaims)
	if req.DoctorID == "" {
		req.DoctorID = claims.Subject
	}
	return respond(c, http.StatusCreated, "authorization decided", s.validator.Authorize(req))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// --- session plumbing ---

// requireAuth validates the access-token cookie and stashes its claims on
// the context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ck, err := c.Cookie(api.AccessTokenCookie)
		if err != nil || ck.Value == "" {
			return respondError(c, http.StatusUnauthorized, "not authenticated")
		}
		claims, err := parseAccessToken(ck.Value, s.cfg.JWTSecret)
		if err != nil {
			return respondError(c, http.StatusUnauthorized, "invalid or expired session")
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

// issueSession sets a fresh access and refresh cookie pair.
func (s *Server) issueSession(c echo.Context, user *models.User) error {
	access, err := signAccessToken(s.cfg.JWTSecret, user.ID, user.Email, user.Role, s.cfg.AccessTokenTTL)
	if err != nil {
		return err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return err
	}
	s.sessions.Put(refresh, user.ID)

	c.SetCookie(s.sessionCookie(api.AccessTokenCookie, access, s.cfg.AccessTokenTTL))
	c.SetCookie(s.sessionCookie(api.RefreshTokenCookie, refresh, s.cfg.RefreshTokenTTL))
	return nil
}

func (s *Server) clearSessionCookies(c echo.Context) {
	c.SetCookie(s.sessionCookie(api.AccessTokenCookie, "", -time.Hour))
	c.SetCookie(s.sessionCookie(api.RefreshTokenCookie, "", -time.Hour))
}

func (s *Server) sessionCookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !s.cfg.IsDev(),
		Expires:  time.Now().Add(ttl),
	}
}
