// Package activity tracks user actions as append-only records and serves
// the aggregate report views built on top of them. Records are written
// once, never mutated; the aggregator rolls them up into daily counters
// for the dashboards.
package activity

import "time"

// Type classifies a tracked action
type Type string

const (
	TypeLogin       Type = "login"
	TypeDownload    Type = "download"
	TypePageView    Type = "page_view"
	TypeSearch      Type = "search"
	TypeProductView Type = "product_view"
)

// Record is one tracked action
type Record struct {
	ID         int64                  `json:"id"`
	UserID     string                 `json:"user_id"`
	Type       Type                   `json:"activity_type"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// DailyCount is one rolled-up day for one activity type
type DailyCount struct {
	Day   time.Time `json:"day"`
	Type  Type      `json:"activity_type"`
	Count int64     `json:"count"`
}

// ResourceCount ranks a resource by how often it was touched
type ResourceCount struct {
	ResourceID string `json:"resource_id"`
	Count      int64  `json:"count"`
}

// ReportFilter bounds a report query
type ReportFilter struct {
	UserID string
	Type   Type
	From   time.Time
	To     time.Time
	Limit  int
}

func (f ReportFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return 100
	}
	return f.Limit
}
