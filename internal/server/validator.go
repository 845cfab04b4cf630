package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ebridge/ebridge/pkg/models"
)

// Member is a covered insurance member known to the validator.
type Member struct {
	Code     string
	Plan     string
	Eligible bool
}

// ValidatorService answers eligibility checks and authorization requests
// against a member registry. The registry is seeded at startup; a real
// deployment would sync it from the insurer.
type ValidatorService struct {
	mu      sync.RWMutex
	members map[string]Member
	issued  map[string]models.Authorization
}

// SeedMembers is the development member registry used when no insurer sync
// is configured.
func SeedMembers() []Member {
	return []Member{
		{Code: "MEM-100", Plan: "gold", Eligible: true},
		{Code: "MEM-101", Plan: "silver", Eligible: true},
		{Code: "MEM-200", Plan: "bronze", Eligible: false},
	}
}

// NewValidatorService creates a validator over the given members.
func NewValidatorService(members []Member) *ValidatorService {
	v := &ValidatorService{
		members: make(map[string]Member, len(members)),
		issued:  make(map[string]models.Authorization),
	}
	for _, m := range members {
		v.members[m.Code] = m
	}
	return v
}

// Check returns the eligibility answer for a member code. Unknown members
// are reported as not eligible rather than as errors.
func (v *ValidatorService) Check(memberCode string) models.Eligibility {
	v.mu.RLock()
	defer v.mu.RUnlock()

	elig := models.Eligibility{
		MemberCode: memberCode,
		CheckedAt:  time.Now().UTC(),
	}
	m, ok := v.members[memberCode]
	if !ok {
		return elig
	}
	elig.Eligible = m.Eligible
	elig.Plan = m.Plan
	return elig
}

// Authorize decides an authorization request. Only eligible members get
// procedures approved.
func (v *ValidatorService) Authorize(req models.AuthorizationRequest) models.Authorization {
	v.mu.Lock()
	defer v.mu.Unlock()

	auth := models.Authorization{
		ID:            uuid.NewString(),
		MemberCode:    req.MemberCode,
		ProcedureCode: req.ProcedureCode,
		IssuedAt:      time.Now().UTC(),
	}

	m, ok := v.members[req.MemberCode]
	switch {
	case !ok:
		auth.Reason = "unknown member"
	case !m.Eligible:
		auth.Reason = "member coverage inactive"
	default:
		auth.Approved = true
	}

	v.issued[auth.ID] = auth
	return auth
}
