// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"regexp"
	"strings"
	"time"
)

// Document is the raw JSON object form of a stored record. The filesystem
// store works on documents so partial updates can be merged field by field.
type Document = map[string]any

// projectIDPattern is the character class allowed in project identifiers,
// which double as directory names.
var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidID reports whether id is usable as a project or paper identifier.
// Callers trim whitespace first.
func ValidID(id string) bool {
	return projectIDPattern.MatchString(id)
}

// CategoryCriteria lists the criteria a paper must meet to fall into a category.
type CategoryCriteria struct {
	// AtLeastOne holds criteria of which any one suffices.
	AtLeastOne []string `json:"pelos_menos_um" yaml:"at_least_one"`

	// All holds criteria that must all be met.
	All []string `json:"todos" yaml:"all"`
}

// Category groups papers under a labelled, colored heading.
type Category struct {
	Title       string           `json:"titulo" yaml:"title"`
	Label       string           `json:"rotulo" yaml:"label"`
	Description string           `json:"descricao" yaml:"description"`
	Color       *string          `json:"cor" yaml:"color,omitempty"`
	Phases      []string         `json:"fases" yaml:"phases"`
	Criteria    CategoryCriteria `json:"criterios" yaml:"criteria"`
}

// Criterion is an inclusion/exclusion rule used while screening papers.
type Criterion struct {
	Title       string   `json:"titulo" yaml:"title"`
	Label       string   `json:"rotulo" yaml:"label"`
	Description string   `json:"descricao" yaml:"description"`
	Phases      []string `json:"fases" yaml:"phases"`
}

// PhasePapers tracks paper ids as they move through a phase.
type PhasePapers struct {
	Inherited []string `json:"herdados" yaml:"inherited"`
	New       []string `json:"novos" yaml:"new"`
	Removed   []string `json:"removidos" yaml:"removed"`
	Selected  []string `json:"selecionados" yaml:"selected"`
}

// Phase is one screening round of a project.
type Phase struct {
	Title       string      `json:"titulo" yaml:"title"`
	Label       string      `json:"rotulo" yaml:"label"`
	Description string      `json:"descricao" yaml:"description"`
	Done        bool        `json:"concluida" yaml:"done"`
	Categories  []string    `json:"categorias" yaml:"categories"`
	Criteria    []string    `json:"criterios" yaml:"criteria"`
	Papers      PhasePapers `json:"papers" yaml:"papers"`
}

// Project is the top-level research-tracking record. ID is immutable once
// assigned and names the project's storage directory.
type Project struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	Description  string      `json:"description" yaml:"description"`
	Researchers  []string    `json:"researchers" yaml:"researchers"`
	Objective    string      `json:"objective" yaml:"objective"`
	CriteriaText string      `json:"criteria" yaml:"criteria_text"`
	Categories   []Category  `json:"categorias" yaml:"categories"`
	Criteria     []Criterion `json:"criterios" yaml:"criteria"`
	Phases       []Phase     `json:"fases" yaml:"phases"`
	Papers       []Paper     `json:"papers" yaml:"papers"`
	CreatedAt    time.Time   `json:"createdAt" yaml:"created_at"`
	UpdatedAt    time.Time   `json:"updatedAt" yaml:"updated_at"`

	// IsCurrent is only meaningful in listings; it is recomputed on read.
	IsCurrent bool `json:"isCurrent" yaml:"-"`
}

// NewProject returns a project with empty collections and both timestamps
// set to now.
func NewProject(id, name string, now time.Time) *Project {
	return &Project{
		ID:          strings.TrimSpace(id),
		Name:        name,
		Researchers: []string{},
		Categories:  []Category{},
		Criteria:    []Criterion{},
		Phases:      []Phase{},
		Papers:      []Paper{},
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

// ProjectSummary is a registry row.
type ProjectSummary struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Researchers []string `json:"researchers" yaml:"researchers"`
	IsCurrent   bool     `json:"isCurrent" yaml:"is_current"`
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses runs of other characters into single
// hyphens. Labels default to the slug of their title.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
