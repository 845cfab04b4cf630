package models

import "time"

// Role identifies the access level of an e-Bridge account.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleDoctor     Role = "DOCTOR"
)

// Valid reports whether the role is one of the known e-Bridge roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleDoctor:
		return true
	}
	return false
}

// User is the authenticated account record returned by /auth/me.
type User struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Role      Role           `json:"role"`
	IsActive  bool           `json:"isActive"`
	Doctor    *DoctorProfile `json:"doctor,omitempty"`
	Admin     *AdminProfile  `json:"admin,omitempty"`
}

// FullName returns the display name for the user.
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// DoctorProfile carries the doctor-specific fields attached to a user.
type DoctorProfile struct {
	ID             string `json:"id"`
	LicenseNumber  string `json:"licenseNumber"`
	Specialty      string `json:"specialty,omitempty"`
	ConsultoryRoom string `json:"consultoryRoom,omitempty"`
}

// AdminProfile carries the admin-specific fields attached to a user.
type AdminProfile struct {
	ID         string `json:"id"`
	Department string `json:"department,omitempty"`
}

// Credentials is the login request payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// DoctorRegistration is the payload for /auth/register/doctor.
type DoctorRegistration struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	LicenseNumber  string `json:"licenseNumber"`
	Specialty      string `json:"specialty,omitempty"`
	ConsultoryRoom string `json:"consultoryRoom,omitempty"`
}

// AdminRegistration is the payload for /auth/register/admin.
type AdminRegistration struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Department string `json:"department,omitempty"`
}

// Eligibility is the ART validator's answer for a member code.
type Eligibility struct {
	MemberCode      string    `json:"memberCode"`
	Eligible        bool      `json:"eligible"`
	Plan            string    `json:"plan,omitempty"`
	AuthorizationID string    `json:"authorizationId,omitempty"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// AuthorizationRequest asks the validator to authorize a procedure for a member.
type AuthorizationRequest struct {
	MemberCode    string `json:"memberCode"`
	ProcedureCode string `json:"procedureCode"`
	DoctorID      string `json:"doctorId,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// Authorization is the validator's decision on an AuthorizationRequest.
type Authorization struct {
	ID            string    `json:"id"`
	MemberCode    string    `json:"memberCode"`
	ProcedureCode string    `json:"procedureCode"`
	Approved      bool      `json:"approved"`
	Reason        string    `json:"reason,omitempty"`
	IssuedAt      time.Time `json:"issuedAt"`
}
