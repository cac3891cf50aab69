package domain

import (
	"strings"
	"time"
)

// ReportKind distinguishes the two upstream report families.
type ReportKind string

const (
	KindCampaign ReportKind = "campaign"
	KindJourney  ReportKind = "journey"
)

// ParseReportKind normalizes a wire value into a ReportKind.
func ParseReportKind(s string) (ReportKind, bool) {
	switch ReportKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindCampaign:
		return KindCampaign, true
	case KindJourney:
		return KindJourney, true
	default:
		return "", false
	}
}

// ReportItem identifies a thing to fetch metrics for.
type ReportItem struct {
	ID   string     `json:"id"`
	Kind ReportKind `json:"type"`
}

// Key is the identity used for the in-process response cache.
func (i ReportItem) Key(timeframe string) string {
	return string(i.Kind) + ":" + i.ID + ":" + timeframe
}

// ReportRecord is the fetched metrics snapshot for one ReportItem.
type ReportRecord struct {
	ID        string           `json:"id"`
	Kind      ReportKind       `json:"type"`
	Name      string           `json:"name"`
	Counters  map[string]int64 `json:"counters"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// CacheDocument accumulates records per user and timeframe.
// Records are unique by ID and kept in insertion order.
type CacheDocument struct {
	UserID      string         `json:"userId"`
	Timeframe   string         `json:"timeframe"`
	Records     []ReportRecord `json:"records"`
	FetchedAt   time.Time      `json:"fetchedAt"`
	LastUpdated time.Time      `json:"lastUpdated"`
	Count       int            `json:"count"`
}

// IDs returns the set of record IDs held by the document.
func (d *CacheDocument) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(d.Records))
	for _, r := range d.Records {
		ids[r.ID] = struct{}{}
	}
	return ids
}

// RateLimitDocument lists items the upstream recently throttled.
type RateLimitDocument struct {
	UserID        string       `json:"userId"`
	Timeframe     string       `json:"timeframe"`
	Items         []ReportItem `json:"items"`
	RateLimitedAt time.Time    `json:"rateLimitedAt"`
	ExpiresAt     time.Time    `json:"expiresAt"`
}

// Expired reports whether the ledger entry no longer applies at now.
func (d *RateLimitDocument) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// PartialRead is the result of a cache lookup for a specific item set.
type PartialRead struct {
	Reports      []ReportRecord `json:"reports"`
	CachedItems  []ReportItem   `json:"cachedItems"`
	MissingItems []ReportItem   `json:"missingItems"`
	IsPartial    bool           `json:"isPartial"`
}

// ReportStatus tags whether a report row carries real upstream data.
type ReportStatus string

const (
	StatusAvailable   ReportStatus = "available"
	StatusPlaceholder ReportStatus = "placeholder"
	StatusUnavailable ReportStatus = "unavailable"
)

// Report is a dashboard row. Only StatusAvailable rows hold upstream numbers;
// placeholder rows carry a synthetic zeroed record so the UI can still render them.
type Report struct {
	ReportRecord
	Status ReportStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

func Available(rec ReportRecord) Report {
	return Report{ReportRecord: rec, Status: StatusAvailable}
}

func Placeholder(item ReportItem, reason string, now time.Time) Report {
	return Report{
		ReportRecord: ReportRecord{
			ID:        item.ID,
			Kind:      item.Kind,
			Counters:  map[string]int64{},
			FetchedAt: now,
		},
		Status: StatusPlaceholder,
		Reason: reason,
	}
}

func Unavailable(item ReportItem, reason string) Report {
	return Report{
		ReportRecord: ReportRecord{ID: item.ID, Kind: item.Kind},
		Status:       StatusUnavailable,
		Reason:       reason,
	}
}

// AvailableAll wraps cached records as available rows.
func AvailableAll(records []ReportRecord) []Report {
	reports := make([]Report, 0, len(records))
	for _, r := range records {
		reports = append(reports, Available(r))
	}
	return reports
}

// ItemIDs extracts the IDs of items, preserving order.
func ItemIDs(items []ReportItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}
