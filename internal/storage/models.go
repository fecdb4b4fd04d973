package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Source tags recorded in the master table's provenance set.
const (
	SourceCrtsh      = "crtsh"
	SourceOTX        = "otx"
	SourceShodan     = "shodan"
	SourceVirusTotal = "virustotal"
)

// SourceList is the master table's provenance field: JSON-encoded as an
// ordered array but treated set-semantically. It only ever grows.
type SourceList []string

// Contains reports whether tag is already present.
func (l SourceList) Contains(tag string) bool {
	for _, s := range l {
		if s == tag {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer, encoding the list as JSON.
func (l SourceList) Value() (driver.Value, error) {
	if l == nil {
		l = SourceList{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *SourceList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = SourceList{}
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("storage: cannot scan %T into SourceList", src)
	}
}

// Finding is one observation of a subdomain by a source. Per-source fields
// are optional and only read for the matching source tag.
type Finding struct {
	Subdomain string
	Source    string
	FirstSeen *time.Time

	// crt.sh certificate validity window.
	RegisteredOn string
	ExpiresOn    string

	// OTX passive-DNS address.
	Address string
}

// MasterSubdomain is a row of subdomains_master.
type MasterSubdomain struct {
	ID        int64      `db:"id" json:"id"`
	Subdomain string     `db:"subdomain" json:"subdomain"`
	Sources   SourceList `db:"sources" json:"sources"`
	LastAlive *time.Time `db:"last_alive" json:"last_alive"`
	FirstSeen *time.Time `db:"first_seen" json:"first_seen"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// AliveSubdomain is a row of alive_subdomains. Rows are never deleted when
// a host later goes down; ProbedAt carries the last observation time.
type AliveSubdomain struct {
	ID         int64      `db:"id" json:"id"`
	Subdomain  string     `db:"subdomain" json:"subdomain"`
	ProbedAt   *time.Time `db:"probed_at" json:"probed_at"`
	LastAlive  *time.Time `db:"last_alive" json:"last_alive"`
	StatusCode *int       `db:"status_code" json:"status_code"`
	Notes      *string    `db:"notes" json:"notes"`
}

// Reservation is a row of domain_requested: a time-bounded claim on an apex
// preventing concurrent scans.
type Reservation struct {
	ID          int64     `db:"id"`
	Domain      string    `db:"domain"`
	RequestedAt time.Time `db:"requested_at"`
	TimeToZero  time.Time `db:"time_to_zero"`
	Scheduled   bool      `db:"scheduled"`
	RequestedBy *string   `db:"requested_by"`
}

// ProbeOutcome is what the sweep persists for one probed host.
type ProbeOutcome struct {
	Subdomain  string
	Reachable  bool
	ProbedAt   time.Time
	StatusCode *int
	Error      string
}

// Job is a row of scheduled_jobs, the durable scheduler registry.
type Job struct {
	ID        string    `db:"job_id"`
	Kind      string    `db:"kind"`
	Apex      string    `db:"apex"`
	Interval  int64     `db:"interval_seconds"`
	CreatedAt time.Time `db:"created_at"`
}

// Job kinds.
const (
	JobKindScan  = "scan"
	JobKindProbe = "probe"
)
