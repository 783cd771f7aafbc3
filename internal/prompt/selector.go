// Package prompt decides how a query is answered and assembles the prompt
// sent to the language model.
//
// A query is answered in one of four modes, checked in order:
//
//  1. ModeListSections: the query asks for the available sections. Answered
//     immediately with [ListAnswer].
//  2. ModeSection: the query names a section that exists. Its body is the
//     whole context.
//  3. ModeSectionNotFound: the query names a section that does not exist.
//     Answered immediately with [NotFoundAnswer].
//  4. ModeGeneral: anything else. Context comes from vector retrieval.
package prompt

import (
	"strings"
	"unicode"

	"github.com/54b3r/bpqa-go/internal/sections"
)

// Mode is the answering strategy chosen for a query.
type Mode string

const (
	// ModeListSections enumerates the section names without generation.
	ModeListSections Mode = "list_sections"
	// ModeSection answers from one named section.
	ModeSection Mode = "section"
	// ModeSectionNotFound reports a missing section without generation.
	ModeSectionNotFound Mode = "section_not_found"
	// ModeGeneral answers from retrieved chunks.
	ModeGeneral Mode = "general"
)

// Generates reports whether the mode calls the language model.
func (m Mode) Generates() bool {
	return m == ModeSection || m == ModeGeneral
}

// Selection is the outcome of [Selector.Select].
type Selection struct {
	// Mode is the chosen strategy.
	Mode Mode
	// Section is the section named by the query, set in ModeSection and
	// ModeSectionNotFound.
	Section string
	// Body is the section body, set in ModeSection.
	Body string
}

// listCommands are whole-query commands that ask for the section list.
var listCommands = map[string]bool{
	"list":      true,
	"sections":  true,
	"index":     true,
	"toc":       true,
	"listar":    true,
	"secciones": true,
	"indice":    true,
	"índice":    true,
}

// listPhrases ask for the section list when they appear anywhere in a query.
var listPhrases = []string{
	"list sections",
	"list all sections",
	"list the sections",
	"show sections",
	"show all sections",
	"available sections",
	"table of contents",
	"listar secciones",
	"lista de secciones",
	"mostrar secciones",
	"secciones disponibles",
}

// listQuestions ask for the section list only when they open the query and
// are followed by nothing but a tail from listTails. "Which sections cover
// welding?" is a content question.
var listQuestions = []string{
	"which sections",
	"what sections",
	"qué secciones",
	"que secciones",
	"cuáles secciones",
	"cuales secciones",
}

// listTails may follow a listQuestions phrase.
var listTails = map[string]bool{
	"":                  true,
	"are there":         true,
	"exist":             true,
	"are available":     true,
	"do you have":       true,
	"do you know":       true,
	"can i ask about":   true,
	"hay":               true,
	"existen":           true,
	"tienes":            true,
	"hay disponibles":   true,
	"están disponibles": true,
	"estan disponibles": true,
	"puedo consultar":   true,
}

// Selector picks a [Mode] for each query. It is safe for concurrent use.
type Selector struct {
	phrases   []string
	questions []string
}

// NewSelector returns a Selector. Phrases built from label, such as
// "list best practices", are recognised in addition to the fixed vocabulary.
func NewSelector(label string) *Selector {
	phrases := append([]string(nil), listPhrases...)
	questions := append([]string(nil), listQuestions...)
	if l := normalize(label); l != "" {
		plural := l + "s"
		phrases = append(phrases,
			"list "+plural,
			"list all "+plural,
			"list the "+plural,
			"available "+plural,
		)
		questions = append(questions,
			"all "+plural,
			"which "+plural,
			"what "+plural,
		)
	}
	return &Selector{phrases: phrases, questions: questions}
}

// Select applies the decision rule to query against idx. A nil idx is
// treated as an empty corpus.
func (s *Selector) Select(query string, idx *sections.Index) Selection {
	if s.IsListIntent(query) {
		return Selection{Mode: ModeListSections}
	}
	if idx == nil {
		return Selection{Mode: ModeGeneral}
	}
	if name, ok := idx.Scheme().FindReference(query); ok {
		if sec, found := idx.Lookup(name); found {
			return Selection{Mode: ModeSection, Section: sec.Name, Body: sec.Body}
		}
		return Selection{Mode: ModeSectionNotFound, Section: name}
	}
	return Selection{Mode: ModeGeneral}
}

// IsListIntent reports whether query asks for the list of sections.
func (s *Selector) IsListIntent(query string) bool {
	q := normalize(query)
	if q == "" {
		return false
	}
	if listCommands[q] {
		return true
	}
	padded := " " + q + " "
	for _, p := range s.phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	for _, p := range s.questions {
		if tail, ok := strings.CutPrefix(q, p); ok && (tail == "" || tail[0] == ' ') {
			if listTails[strings.TrimSpace(tail)] {
				return true
			}
		}
	}
	return false
}

// normalize lowercases s, replaces punctuation with spaces and collapses
// whitespace.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
