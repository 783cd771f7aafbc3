// Package answer turns raw model output into a structured answer.
//
// The model is asked to reply with {"texto": "...", "imagenes": ["..."]}.
// Replies often arrive wrapped in a Markdown code fence, surrounded by prose,
// or not as JSON at all. [Parser.Parse] accepts all of these: it never fails
// to produce a usable [Answer], and reports [ErrParseFailure] when it had to
// fall back to the raw text.
package answer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/54b3r/bpqa-go/internal/catalog"
)

// ErrParseFailure reports model output that was not the expected JSON shape.
var ErrParseFailure = errors.New("answer: model output could not be parsed")

// Placeholder is the answer text used when the model returned valid JSON
// without a "texto" field.
const Placeholder = "The answer could not be interpreted."

// Image is one image referenced by an answer.
type Image struct {
	// Filename is the image file name relative to the images directory.
	Filename string `json:"filename"`
	// Title is the catalog title, empty when uncatalogued.
	Title string `json:"title"`
	// Description is the catalog description, empty when uncatalogued.
	Description string `json:"description"`
}

// Answer is the caller-facing result of a query.
type Answer struct {
	// Text is the answer prose.
	Text string `json:"text"`
	// Images lists the supporting images in the order the model gave them.
	// It is never nil.
	Images []Image `json:"images"`
}

// Text returns an answer with the given text and no images.
func Text(s string) Answer {
	return Answer{Text: s, Images: []Image{}}
}

// outputSchema is the JSON Schema the model output must satisfy.
const outputSchema = `{
	"type": "object",
	"properties": {
		"texto": {"type": ["string", "null"]},
		"imagenes": {"type": ["array", "null"], "items": {"type": "string"}}
	}
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(outputSchema))
})

// fenceRe matches a Markdown code fence and captures its body.
var fenceRe = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\\r?\\n?(.*?)```")

// modelOutput is the decoded model reply.
type modelOutput struct {
	Texto    *string  `json:"texto"`
	Imagenes []string `json:"imagenes"`
}

// Parser decodes model output and resolves image references against a
// catalog. It is safe for concurrent use.
type Parser struct {
	catalog     *catalog.Catalog
	dropUnknown bool
}

// NewParser returns a Parser. A nil catalog resolves every image as
// uncatalogued. When dropUnknown is set, filenames outside the catalog are
// removed instead of passed through.
func NewParser(cat *catalog.Catalog, dropUnknown bool) *Parser {
	if cat == nil {
		cat = catalog.Empty()
	}
	return &Parser{catalog: cat, dropUnknown: dropUnknown}
}

// Parse interprets raw. The returned Answer is always usable. On failure it
// holds the raw text and no images, and the error wraps [ErrParseFailure].
func (p *Parser) Parse(raw string) (Answer, error) {
	var lastErr error
	for _, candidate := range candidates(raw) {
		out, err := decode(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		text := Placeholder
		if out.Texto != nil {
			text = *out.Texto
		}
		return Answer{Text: text, Images: p.resolve(out.Imagenes)}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("empty output")
	}
	return Text(raw), fmt.Errorf("%w: %w", ErrParseFailure, lastErr)
}

func (p *Parser) resolve(filenames []string) []Image {
	resolved := p.catalog.Resolve(filenames, p.dropUnknown)
	out := make([]Image, len(resolved))
	for i, img := range resolved {
		out[i] = Image{Filename: img.Filename, Title: img.Title, Description: img.Description}
	}
	return out
}

// candidates lists the substrings of raw worth decoding, most specific
// first: a fenced body, the whole trimmed text, then the outermost brace span.
func candidates(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	var out []string
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		if body := strings.TrimSpace(m[1]); body != "" {
			out = append(out, body)
		}
	}
	out = append(out, trimmed)
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		if span := trimmed[start : end+1]; span != trimmed {
			out = append(out, span)
		}
	}
	return out
}

func decode(s string) (*modelOutput, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(s))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("schema: %s", strings.Join(details, "; "))
	}
	var out modelOutput
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &out, nil
}
