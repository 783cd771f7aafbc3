// Package loader reads the document corpus into ordered plain-text units.
//
// Each supported file becomes a [Document] whose units follow document order:
// one unit per PDF page, one per DOCX paragraph, one per blank-line separated
// paragraph of a .txt or .md file. Files are visited in lexicographic order so
// the resulting unit sequence is deterministic.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrDocumentNotFound is returned when the corpus directory is missing or
	// holds no readable documents.
	ErrDocumentNotFound = errors.New("loader: no documents found")

	// ErrDocumentUnreadable marks a single file that could not be parsed.
	ErrDocumentUnreadable = errors.New("loader: document unreadable")
)

// UnreadableError reports a file that failed to parse. It wraps both
// [ErrDocumentUnreadable] and the underlying cause.
type UnreadableError struct {
	// Path is the file that failed.
	Path string
	// Err is the parse failure.
	Err error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("loader: document unreadable: %s: %v", e.Path, e.Err)
}

// Unwrap exposes the sentinel and the cause to [errors.Is].
func (e *UnreadableError) Unwrap() []error {
	return []error{ErrDocumentUnreadable, e.Err}
}

// Document is one source file split into ordered text units.
type Document struct {
	// ID is the file name relative to the corpus directory.
	ID string
	// Units are the non-empty text units in document order.
	Units []string
}

// extractor turns one file into raw units.
type extractor func(path string) ([]string, error)

// extractors maps lowercase file extensions to their readers.
var extractors = map[string]extractor{
	".pdf":  readPDF,
	".docx": readDOCX,
	".txt":  readText,
	".md":   readText,
}

// Supported reports whether the file name has a recognised extension.
func Supported(name string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Load reads every supported file directly under dir. Unreadable files are
// logged and skipped. If the directory is missing, holds no supported files,
// or every file fails, the error wraps [ErrDocumentNotFound].
func Load(ctx context.Context, dir string, log *slog.Logger) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDocumentNotFound, dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s holds no .pdf, .docx, .txt or .md files", ErrDocumentNotFound, dir)
	}

	docs := make([]Document, 0, len(names))
	var lastErr error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			lastErr = err
			log.Warn("loader: skipping unreadable document",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		doc.ID = name
		docs = append(docs, doc)
		log.Debug("loader: document loaded",
			slog.String("file", name),
			slog.Int("units", len(doc.Units)),
		)
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: every document failed to load: %w", ErrDocumentNotFound, lastErr)
	}
	return docs, nil
}

// LoadFile reads a single supported file. The returned document's ID is the
// base name of path.
func LoadFile(path string) (Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	read, ok := extractors[ext]
	if !ok {
		return Document{}, &UnreadableError{Path: path, Err: fmt.Errorf("unsupported extension %q", ext)}
	}
	raw, err := read(path)
	if err != nil {
		return Document{}, &UnreadableError{Path: path, Err: err}
	}
	return Document{ID: filepath.Base(path), Units: clean(raw)}, nil
}

// clean trims every unit and drops the empty ones.
func clean(units []string) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		u = strings.TrimSpace(u)
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

// readText splits a plain-text file on blank lines.
func readText(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	var units []string
	var cur []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				units = append(units, strings.Join(cur, "\n"))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		units = append(units, strings.Join(cur, "\n"))
	}
	return units, nil
}
