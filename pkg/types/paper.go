// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Origin records how a paper entered a snowballing study.
type Origin string

const (
	OriginSeed     Origin = "seed"
	OriginBackward Origin = "backward"
	OriginForward  Origin = "forward"
	OriginUnknown  Origin = "unknown"
)

// PaperStatus is a paper's screening decision.
type PaperStatus string

const (
	PaperPending   PaperStatus = "pending"
	PaperIncluded  PaperStatus = "included"
	PaperExcluded  PaperStatus = "excluded"
	PaperDuplicate PaperStatus = "duplicate"
)

// ValidStatus reports whether s is a known screening status.
func ValidStatus(s PaperStatus) bool {
	switch s {
	case PaperPending, PaperIncluded, PaperExcluded, PaperDuplicate:
		return true
	}
	return false
}

// DefaultHistoryLimit bounds history when TrimHistory is called with a
// non-positive limit.
const DefaultHistoryLimit = 200

// History actions.
const (
	ActionMark         = "mark"
	ActionUnmark       = "unmark"
	ActionStatusChange = "status_change"
	ActionUpdate       = "update"
)

// HistoryEntry is one state transition in a paper's audit log.
type HistoryEntry struct {
	Timestamp time.Time      `json:"ts" yaml:"ts"`
	Action    string         `json:"action" yaml:"action"`
	Details   map[string]any `json:"details" yaml:"details"`
}

// Paper is a tracked reference. History is append-only: transitions add
// entries, and only TrimHistory ever removes them.
type Paper struct {
	ID          string         `json:"id" yaml:"id"`
	URL         string         `json:"url" yaml:"url"`
	Title       string         `json:"title" yaml:"title"`
	Authors     []string       `json:"authors" yaml:"authors"`
	AuthorsRaw  string         `json:"authorsRaw" yaml:"authors_raw"`
	Year        *int           `json:"year" yaml:"year,omitempty"`
	Origin      Origin         `json:"origin" yaml:"origin"`
	Status      PaperStatus    `json:"status" yaml:"status"`
	IterationID string         `json:"iterationId" yaml:"iteration_id"`
	CriteriaID  *string        `json:"criteriaId" yaml:"criteria_id,omitempty"`
	Tags        []string       `json:"tags" yaml:"tags"`
	Visited     bool           `json:"visited" yaml:"visited"`
	CreatedAt   time.Time      `json:"createdAt" yaml:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" yaml:"updated_at"`
	History     []HistoryEntry `json:"history" yaml:"history"`

	// ProjectID optionally names the owning project when no project is open.
	ProjectID string `json:"projectID,omitempty" yaml:"project_id,omitempty"`
}

// NormalizeURL strips session tokens that would otherwise give the same
// paper different identifiers.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	if !q.Has("casa_token") {
		return raw
	}
	q.Del("casa_token")
	u.RawQuery = q.Encode()
	return u.String()
}

// PaperID derives the stable identifier for a paper URL.
func PaperID(rawURL string) string {
	h := sha256.Sum256([]byte(NormalizeURL(rawURL)))
	return fmt.Sprintf("url-%x", h[:8])
}

// NewPaper returns a pending paper of unknown origin for rawURL.
func NewPaper(rawURL, iterationID string, now time.Time) *Paper {
	u := NormalizeURL(rawURL)
	return &Paper{
		ID:          PaperID(u),
		URL:         u,
		Title:       u,
		Authors:     []string{},
		Origin:      OriginUnknown,
		Status:      PaperPending,
		IterationID: iterationID,
		Tags:        []string{},
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
		History:     []HistoryEntry{},
	}
}

// InferFromCategory maps a highlight category to the origin and status it
// implies. Origin categories leave the paper pending; decision categories
// leave its origin unchanged (empty Origin).
func InferFromCategory(category string) (Origin, PaperStatus) {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "seed":
		return OriginSeed, PaperPending
	case "backward":
		return OriginBackward, PaperPending
	case "forward":
		return OriginForward, PaperPending
	case "included":
		return "", PaperIncluded
	case "excluded":
		return "", PaperExcluded
	case "duplicate":
		return "", PaperDuplicate
	default:
		return "", PaperPending
	}
}

func (p *Paper) appendHistory(action string, details map[string]any, now time.Time) {
	ts := now.UTC()
	// Keep the log ordered even if the clock steps backwards.
	if n := len(p.History); n > 0 && ts.Before(p.History[n-1].Timestamp) {
		ts = p.History[n-1].Timestamp
	}
	p.History = append(p.History, HistoryEntry{Timestamp: ts, Action: action, Details: details})
	p.UpdatedAt = ts
}

func (p *Paper) currentStatus() PaperStatus {
	if p.Status == "" {
		return PaperPending
	}
	return p.Status
}

// Mark records that the paper was highlighted under category.
func (p *Paper) Mark(category string, now time.Time) {
	prev := p.currentStatus()
	origin, status := InferFromCategory(category)
	if origin != "" {
		p.Origin = origin
	} else if p.Origin == "" {
		p.Origin = OriginUnknown
	}
	p.Status = status
	p.Visited = true
	if category != "" && !slices.Contains(p.Tags, category) {
		p.Tags = append(p.Tags, category)
	}
	p.appendHistory(ActionMark, map[string]any{
		"category":   category,
		"origin":     string(p.Origin),
		"status":     string(p.Status),
		"prevStatus": string(prev),
	}, now)
}

// Unmark clears the visited flag but keeps the paper for the audit trail.
func (p *Paper) Unmark(now time.Time) {
	p.Visited = false
	p.appendHistory(ActionUnmark, map[string]any{"visited": false}, now)
}

// SetStatus records a screening decision. via names the surface that made it.
func (p *Paper) SetStatus(status PaperStatus, via string, now time.Time) error {
	if !ValidStatus(status) {
		return NewError(KindValidation, "set_status", fmt.Sprintf("unknown paper status %q", status))
	}
	prev := p.currentStatus()
	p.Status = status
	p.appendHistory(ActionStatusChange, map[string]any{
		"from": string(prev),
		"to":   string(status),
		"via":  via,
	}, now)
	return nil
}

// PaperUpdate holds optional field edits; nil fields are left unchanged.
type PaperUpdate struct {
	Title      *string
	Authors    []string
	AuthorsRaw *string
	Year       *int
	Tags       []string
	CriteriaID *string
}

// Update applies the non-nil fields of u and records one history entry
// naming the changed fields. It reports whether anything changed.
func (p *Paper) Update(u PaperUpdate, now time.Time) bool {
	var changed []string
	if u.Title != nil && *u.Title != p.Title {
		p.Title = *u.Title
		changed = append(changed, "title")
	}
	if u.Authors != nil && !slices.Equal(u.Authors, p.Authors) {
		p.Authors = slices.Clone(u.Authors)
		changed = append(changed, "authors")
	}
	if u.AuthorsRaw != nil && *u.AuthorsRaw != p.AuthorsRaw {
		p.AuthorsRaw = *u.AuthorsRaw
		changed = append(changed, "authorsRaw")
	}
	if u.Year != nil && (p.Year == nil || *p.Year != *u.Year) {
		y := *u.Year
		p.Year = &y
		changed = append(changed, "year")
	}
	if u.Tags != nil && !slices.Equal(u.Tags, p.Tags) {
		p.Tags = slices.Clone(u.Tags)
		changed = append(changed, "tags")
	}
	if u.CriteriaID != nil && (p.CriteriaID == nil || *p.CriteriaID != *u.CriteriaID) {
		c := *u.CriteriaID
		p.CriteriaID = &c
		changed = append(changed, "criteriaId")
	}
	if len(changed) == 0 {
		return false
	}
	p.appendHistory(ActionUpdate, map[string]any{"fields": changed}, now)
	return true
}

// TrimHistory drops the oldest entries so at most limit remain. It is the
// only operation that removes history. A non-positive limit uses
// DefaultHistoryLimit.
func (p *Paper) TrimHistory(limit int) int {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	n := len(p.History) - limit
	if n <= 0 {
		return 0
	}
	p.History = slices.Clone(p.History[n:])
	return n
}
