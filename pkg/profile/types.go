package profile

import (
	"errors"
	"time"
)

// Kind classifies the authorization record found for a user
type Kind string

const (
	KindAdmin       Kind = "admin"
	KindDistributor Kind = "distributor"
	KindNone        Kind = "none"
	KindConflict    Kind = "conflict"
)

// Status values for authorization records
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Record is the application-level authorization record. Admin rows (from
// the dual-table layout's admin_users table) populate the same shape with
// the distributor-only fields left empty.
type Record struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name,omitempty"`
	CompanyName   string    `json:"company_name,omitempty"`
	Role          string    `json:"role"`
	Status        string    `json:"status"`
	Territory     string    `json:"territory,omitempty"`
	DistributorID string    `json:"distributor_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Resolution is the outcome of looking a user up in the authorization tables
type Resolution struct {
	Kind   Kind
	Record *Record

	// EmailFallback is set when the record was found by the legacy
	// email-keyed lookup rather than by user ID. Divergent results are
	// logged; ID-based lookup is canonical.
	EmailFallback bool
}

var (
	// ErrProfileNotFound means no authorization record exists for the user
	ErrProfileNotFound = errors.New("no authorization record for user")

	// ErrProfileConflict means the user appears in both authorization
	// tables, which is a configuration error
	ErrProfileConflict = errors.New("user present in both authorization tables")

	// ErrAccountInactive means a record exists but its status is not active
	ErrAccountInactive = errors.New("account is not active")
)
