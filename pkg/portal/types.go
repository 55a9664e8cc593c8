// Package portal implements the data views behind the distributor and
// admin screens: the content library (documents, training materials,
// marketing assets), software releases, customers and their devices. All
// views share the same shape: server-side filtered lists with whitelisted
// sorting, admin-only mutations, and atomic download counters.
package portal

import (
	"errors"
	"time"
)

// LibraryKind names a content-library table
type LibraryKind string

const (
	KindDocuments         LibraryKind = "documents"
	KindTrainingMaterials LibraryKind = "training_materials"
	KindMarketingAssets   LibraryKind = "marketing_assets"
)

// Content status values
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Customer status values
const (
	CustomerActive   = "active"
	CustomerInactive = "inactive"
	CustomerProspect = "prospect"
)

var (
	// ErrNotFound means the requested row does not exist or is not visible
	// to the caller
	ErrNotFound = errors.New("record not found")

	// ErrPermissionDenied means the store accepted the statement but
	// changed no rows: row-level security surfaces blocked mutations as an
	// empty result, not as a query error
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnknownSortField means the requested sort column is not in the
	// view's whitelist
	ErrUnknownSortField = errors.New("unknown sort field")
)

// Item is a content-library row. The three library kinds share this shape;
// fields a kind does not use stay empty.
type Item struct {
	ID        string      `json:"id"`
	Kind      LibraryKind `json:"kind"`
	Title     string      `json:"title"`
	Category  string      `json:"category,omitempty"`
	Product   string      `json:"product,omitempty"`
	Version   string      `json:"version,omitempty"`
	Format    string      `json:"format,omitempty"`
	Status    string      `json:"status"`
	FileKey   string      `json:"file_key,omitempty"`
	Downloads int64       `json:"downloads"`
	Views     int64       `json:"views"`
	CreatedBy string      `json:"created_by,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Release is a downloadable software release
type Release struct {
	ID           string    `json:"id"`
	Product      string    `json:"product"`
	Version      string    `json:"version"`
	ReleaseNotes string    `json:"release_notes,omitempty"`
	Status       string    `json:"status"`
	FileKey      string    `json:"file_key,omitempty"`
	Downloads    int64     `json:"downloads"`
	ReleasedAt   time.Time `json:"released_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Customer is a distributor-owned account record
type Customer struct {
	ID            string    `json:"id"`
	DistributorID string    `json:"distributor_id"`
	CompanyName   string    `json:"company_name"`
	ContactName   string    `json:"contact_name,omitempty"`
	ContactEmail  string    `json:"contact_email,omitempty"`
	ContactPhone  string    `json:"contact_phone,omitempty"`
	AddressLine1  string    `json:"address_line1,omitempty"`
	AddressLine2  string    `json:"address_line2,omitempty"`
	City          string    `json:"city,omitempty"`
	Country       string    `json:"country,omitempty"`
	Status        string    `json:"status"`
	InternalNotes string    `json:"internal_notes,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Device is an installed unit tracked under a customer
type Device struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customer_id"`
	Product      string    `json:"product"`
	SerialNumber string    `json:"serial_number"`
	Firmware     string    `json:"firmware,omitempty"`
	InstalledAt  time.Time `json:"installed_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Scope is the caller's visibility: admins see every row including drafts;
// distributors see published content and their own tenant's records only.
type Scope struct {
	Admin         bool
	DistributorID string
	UserID        string
}

// ListFilter is the uniform list-view filter. Exact-match fields compose
// server-side predicates; Search is an ILIKE substring match on the
// view's title column.
type ListFilter struct {
	Status    string
	Category  string
	Product   string
	Search    string
	SortField string
	SortDesc  bool
	Limit     int
	Offset    int
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 200 {
		return 50
	}
	return f.Limit
}
