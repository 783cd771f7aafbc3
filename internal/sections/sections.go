// Package sections builds the corpus index: the full corpus text plus a map
// from section name (e.g. "Best Practice 3") to the text that follows its
// header until the next header.
package sections

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/54b3r/bpqa-go/internal/loader"
)

// DefaultLabel is the header label used when none is configured.
const DefaultLabel = "Best Practice"

// Section is one named section and its accumulated body.
type Section struct {
	// Name is the normalised section name, e.g. "Best Practice 3".
	Name string
	// Body is the header's inline text followed by every unit up to the next
	// header, newline-joined.
	Body string
}

// Index is the corpus text and its sections. An Index is immutable once
// built and safe for concurrent readers.
type Index struct {
	// FullText is every unit in corpus order, with a "\n<Name>:\n" marker
	// inserted before each header unit.
	FullText string

	order  []string
	bodies map[string]string
	scheme *Scheme
}

// Scheme recognises section headers for one label.
type Scheme struct {
	label  string
	header *regexp.Regexp
	ref    *regexp.Regexp
	titled string
}

// NewScheme compiles the header patterns for label. An empty label selects
// [DefaultLabel].
func NewScheme(label string) *Scheme {
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		label = DefaultLabel
	}
	words := strings.Fields(label)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	pat := strings.Join(words, `\s+`)

	return &Scheme{
		label:  label,
		header: regexp.MustCompile(`(?is)^` + pat + `\s+(\d+)\s*[:\-]?\s*(.*)$`),
		ref:    regexp.MustCompile(`(?i)\b` + pat + `\s*(?:#|no\.?|n[º°]\s*)?\s*(\d+)\b`),
		titled: cases.Title(language.Und).String(strings.ToLower(label)),
	}
}

// Label returns the header label in its configured spelling.
func (s *Scheme) Label() string { return s.label }

// name renders the canonical section name for a header number.
func (s *Scheme) name(num string) string {
	if n, err := strconv.Atoi(num); err == nil {
		num = strconv.Itoa(n)
	}
	return s.titled + " " + num
}

// MatchHeader reports whether unit opens a section, returning the section
// name and the inline text that follows the header on the same unit.
func (s *Scheme) MatchHeader(unit string) (name, inline string, ok bool) {
	m := s.header.FindStringSubmatch(unit)
	if m == nil {
		return "", "", false
	}
	return s.name(m[1]), strings.TrimSpace(m[2]), true
}

// FindReference returns the first section name mentioned anywhere in text,
// e.g. "what does best practice 7 say" yields "Best Practice 7".
func (s *Scheme) FindReference(text string) (string, bool) {
	m := s.ref.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return s.name(m[1]), true
}

// Build indexes the units of docs in order.
func Build(docs []loader.Document, scheme *Scheme) *Index {
	var units []string
	for _, d := range docs {
		units = append(units, d.Units...)
	}
	return BuildUnits(units, scheme)
}

// BuildUnits indexes a flat unit sequence. Empty units are ignored. A header
// repeating an existing name reopens that section and appends to it.
func BuildUnits(units []string, scheme *Scheme) *Index {
	if scheme == nil {
		scheme = NewScheme("")
	}
	idx := &Index{bodies: make(map[string]string), scheme: scheme}

	var (
		parts   []string
		current string
		bodies  = make(map[string]*strings.Builder)
	)
	appendBody := func(name, text string) {
		b := bodies[name]
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(text)
	}

	for _, u := range units {
		if strings.TrimSpace(u) == "" {
			continue
		}
		if name, inline, ok := scheme.MatchHeader(u); ok {
			current = name
			if _, seen := bodies[name]; !seen {
				bodies[name] = &strings.Builder{}
				idx.order = append(idx.order, name)
			}
			if inline != "" {
				appendBody(name, inline)
			}
			parts = append(parts, fmt.Sprintf("\n%s:\n", name))
		} else if current != "" {
			appendBody(current, u)
		}
		parts = append(parts, u)
	}

	for name, b := range bodies {
		idx.bodies[name] = b.String()
	}
	idx.FullText = strings.Join(parts, "\n")
	return idx
}

// Empty reports whether the corpus contributed no text at all.
func (x *Index) Empty() bool {
	return x == nil || x.FullText == ""
}

// Names returns the section names in first-seen order.
func (x *Index) Names() []string {
	if x == nil {
		return nil
	}
	out := make([]string, len(x.order))
	copy(out, x.order)
	return out
}

// Len returns the number of sections.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.order)
}

// Lookup returns the section with the given name. The name is matched after
// normalisation, so "best practice 03" finds "Best Practice 3".
func (x *Index) Lookup(name string) (Section, bool) {
	if x == nil {
		return Section{}, false
	}
	if n, _, ok := x.scheme.MatchHeader(strings.TrimSpace(name)); ok {
		name = n
	}
	body, ok := x.bodies[name]
	if !ok {
		return Section{}, false
	}
	return Section{Name: name, Body: body}, true
}

// Scheme returns the header scheme the index was built with.
func (x *Index) Scheme() *Scheme {
	if x == nil || x.scheme == nil {
		return NewScheme("")
	}
	return x.scheme
}
