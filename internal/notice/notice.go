// Package notice defines the canonical contract-opportunity entity and the
// normalization of raw SAM.gov payloads into it.
package notice

import "time"

// Opportunity is the canonical form of a single contract notice. NoticeID is
// the upstream-assigned identifier and the only stable identity across runs.
type Opportunity struct {
	NoticeID           string     `json:"notice_id"`
	SolicitationNumber string     `json:"solicitation_number,omitempty"`
	Title              string     `json:"title"`
	Agency             string     `json:"agency,omitempty"`
	NoticeType         string     `json:"notice_type,omitempty"`
	NAICSCode          string     `json:"naics_code,omitempty"`
	SetAside           string     `json:"set_aside,omitempty"`
	PostedDate         time.Time  `json:"posted_date,omitempty"`
	ResponseDeadline   *time.Time `json:"response_deadline,omitempty"`
	Description        string     `json:"description,omitempty"`
	Link               string     `json:"link,omitempty"`
	RawSourceHash      string     `json:"raw_source_hash"`

	// Set by the store on upsert, never by normalization.
	FirstSeenAt time.Time `json:"first_seen_at,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at,omitempty"`
}
