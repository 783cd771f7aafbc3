package prompt

import (
	"fmt"
	"strings"

	"github.com/54b3r/bpqa-go/internal/budget"
	"github.com/54b3r/bpqa-go/internal/rag"
)

const (
	sectionInstruction = "You answer questions about engineering best practice documents. " +
		"Use only the text of %s given below. If that text does not answer the question, say so plainly."

	generalInstruction = "You answer questions about engineering best practice documents. " +
		"Use only the context given below. If the context does not contain the answer, say that the documents do not cover it."

	outputContract = "Respond with a single JSON object and nothing else, in this exact shape:\n" +
		`{"texto": "<your answer>", "imagenes": ["<filename>", ...]}`
)

// Build assembles the prompt for a generating selection: instruction,
// context, output contract, then the verbatim query. images lists the only
// filenames the model may return.
func Build(sel Selection, context, query string, images []string) string {
	var sb strings.Builder

	if sel.Mode == ModeSection {
		fmt.Fprintf(&sb, sectionInstruction, sel.Section)
		sb.WriteString("\n\n")
		fmt.Fprintf(&sb, "### %s\n", sel.Section)
	} else {
		sb.WriteString(generalInstruction)
		sb.WriteString("\n\n### Context\n")
	}
	sb.WriteString(strings.TrimSpace(context))
	sb.WriteString("\n\n### Output format\n")
	sb.WriteString(outputContract)
	sb.WriteString("\n")
	if len(images) == 0 {
		sb.WriteString(`No images are available, so "imagenes" must be an empty list.`)
	} else {
		sb.WriteString(`"imagenes" may only contain filenames from this list, and may be empty: `)
		sb.WriteString(strings.Join(images, ", "))
	}
	sb.WriteString("\n\n### Question\n")
	sb.WriteString(query)
	return sb.String()
}

// GeneralContext joins retrieved chunks in relevance order, separated by
// blank lines, keeping as many as fit maxTokens. The top chunk is always
// kept.
func GeneralContext(chunks []rag.Chunk, maxTokens int) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = strings.TrimSpace(c.Content)
	}
	return strings.Join(budget.FitTexts(texts, maxTokens), "\n\n")
}

// ListAnswer renders the section names as an immediate answer.
func ListAnswer(names []string) string {
	if len(names) == 0 {
		return "No sections were found in the documents."
	}
	var sb strings.Builder
	sb.WriteString("Available sections:")
	for _, n := range names {
		sb.WriteString("\n- ")
		sb.WriteString(n)
	}
	return sb.String()
}

// NotFoundAnswer renders the reply for a query naming a missing section.
func NotFoundAnswer(name string, names []string) string {
	if len(names) == 0 {
		return fmt.Sprintf("%s was not found in the documents. No sections are available.", name)
	}
	return fmt.Sprintf("%s was not found in the documents. Available sections are: %s.", name, strings.Join(names, ", "))
}
