// Package framework builds skill-map frameworks from a competency CSV.
//
// Each input row names one path through the four taxonomy levels: domain,
// competency (skill), sub-competency (subSkill) and observable element.
// The domain code names the framework.
//
// Phases:
//
//	setup         create each framework, then its categories
//	terms         create each distinct term, recording node ids in the ledger
//	associations  link domain→skills, skill→subSkills, subSkill→observables
//	publish       publish each framework
//	all           the four phases in order
package framework

import (
	"errors"
	"regexp"
	"strings"

	"github.com/pithecene-io/lmsmig/csvload"
	"github.com/pithecene-io/lmsmig/lms"
	"github.com/pithecene-io/lmsmig/types"
)

// Name identifies the migration in logs, metrics and reports.
const Name = "framework"

// Phases.
const (
	PhaseSetup        = "setup"
	PhaseTerms        = "terms"
	PhaseAssociations = "associations"
	PhasePublish      = "publish"
	PhaseAll          = "all"
)

// Phases lists every phase in CLI order.
var Phases = []string{PhaseSetup, PhaseTerms, PhaseAssociations, PhasePublish, PhaseAll}

// Input columns.
const (
	ColDomainCode     = "Domain_Code"
	ColDomainDesc     = "Domain_Description"
	ColSkillCode      = "Competency_Code"
	ColSkillDesc      = "Competency_Description"
	ColSubSkillCode   = "Sub-competency_Code"
	ColSubSkillDesc   = "Sub-competency_Description"
	ColObservableCode = "Code observable element"
	ColObservableDesc = "Observable elements"
)

// Term categories, top to bottom.
const (
	CategoryDomain     = "domain"
	CategorySkill      = "skill"
	CategorySubSkill   = "subSkill"
	CategoryObservable = "observableElement"
)

// Step names.
const (
	StepCreateFramework = "create-framework"
	StepCreateCategory  = "create-category"
	StepCreateTerm      = "create-term"
	StepAssociate       = "update-associations"
	StepPublish         = "publish-framework"
)

// level is one taxonomy level and the columns holding its terms.
type level struct {
	category string
	code     string
	name     string
}

var levels = []level{
	{CategoryDomain, ColDomainCode, ColDomainDesc},
	{CategorySkill, ColSkillCode, ColSkillDesc},
	{CategorySubSkill, ColSubSkillCode, ColSubSkillDesc},
	{CategoryObservable, ColObservableCode, ColObservableDesc},
}

// Schema is the input CSV schema.
func Schema() csvload.Schema {
	var required []string
	for _, l := range levels {
		required = append(required, l.code, l.name)
	}
	return csvload.Schema{Name: Name, Required: required}
}

var trailingDigits = regexp.MustCompile(`\d+$`)

// Code derives a framework code from a domain code by splitting off its
// trailing number: DOM12 becomes DOM_12. Codes without one are kept.
func Code(domainCode string) string {
	loc := trailingDigits.FindStringIndex(domainCode)
	if loc == nil || loc[0] == 0 {
		return domainCode
	}
	return domainCode[:loc[0]] + "_" + domainCode[loc[0]:]
}

// TermKey is the ledger key of a term: the framework code for its domain,
// "<framework>_<lower-cased code>" otherwise.
func TermKey(framework, category, code string) string {
	if category == CategoryDomain {
		return framework
	}
	return framework + "_" + strings.ToLower(code)
}

// DryRunID is the placeholder node id recorded for a term in a dry run.
func DryRunID(framework, category, code string) string {
	fw := strings.ToLower(framework)
	if category == CategoryDomain {
		return fw + "_domain"
	}
	return fw + "_" + strings.ToLower(category) + "_" + strings.ToLower(code)
}

// NodeSegment returns the part of a node id the term update path takes:
// its last underscore-separated segment.
func NodeSegment(id string) string {
	if i := strings.LastIndex(id, "_"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Framework is one framework to create.
type Framework struct {
	Code        string
	DomainCode  string
	Name        string
	Description string
	// Row is the first input row naming the framework.
	Row int
}

// Term is one distinct term.
type Term struct {
	Framework string
	Category  string
	Code      string
	Name      string
	Key       string
	Row       int
}

// Label identifies the term in logs and reports.
func (t Term) Label() string {
	return t.Category + ":" + t.Key
}

// link is one parent→child edge found in an input row.
type link struct {
	category string
	parent   string
	child    string
	childCat string
	fw       string
	row      int
}

// Model is the framework content of an input file.
type Model struct {
	Frameworks []Framework
	Terms      []Term
	links      []link
}

// BuildModel collects the distinct frameworks and terms of records, in
// first-seen order. The first description of a domain code names its
// framework.
func BuildModel(records []types.Record) *Model {
	m := &Model{}
	seenFw := make(map[string]bool)
	seenTerm := make(map[string]bool)

	for _, rec := range records {
		domain := rec.Field(ColDomainCode)
		fw := Code(domain)
		if !seenFw[fw] {
			seenFw[fw] = true
			name := rec.Field(ColDomainDesc) + " Framework"
			m.Frameworks = append(m.Frameworks, Framework{
				Code:        fw,
				DomainCode:  domain,
				Name:        name,
				Description: name,
				Row:         rec.Row,
			})
		}

		keys := make([]string, len(levels))
		for i, l := range levels {
			t := Term{
				Framework: fw,
				Category:  l.category,
				Code:      rec.Field(l.code),
				Name:      rec.Field(l.name),
				Row:       rec.Row,
			}
			t.Key = TermKey(fw, l.category, t.Code)
			keys[i] = t.Key
			if seenTerm[t.Label()] {
				continue
			}
			seenTerm[t.Label()] = true
			m.Terms = append(m.Terms, t)
		}

		for i := 0; i+1 < len(levels); i++ {
			m.links = append(m.links, link{
				category: levels[i].category,
				parent:   keys[i],
				childCat: levels[i+1].category,
				child:    keys[i+1],
				fw:       fw,
				row:      rec.Row,
			})
		}
	}
	return m
}

// Options configures the migration.
type Options struct {
	Builder *lms.Builder
	// Categories are created in every framework by setup.
	Categories []lms.Category
	// StateFile is the term ledger path.
	StateFile string
}

// Migration runs the framework phases.
type Migration struct {
	opts Options
}

// New validates opts and creates the migration.
func New(opts Options) (*Migration, error) {
	switch {
	case opts.Builder == nil:
		return nil, errors.New("framework: request builder is required")
	case len(opts.Categories) == 0:
		return nil, errors.New("framework: at least one category is required")
	case opts.StateFile == "":
		return nil, errors.New("framework: term ledger path is required")
	}
	return &Migration{opts: opts}, nil
}
