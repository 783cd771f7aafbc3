// Package chunker splits text into overlapping windows for embedding.
//
// Windows hold at most Size runes. Consecutive windows share at least Overlap
// runes. Cuts prefer paragraph breaks, then line breaks, then sentence ends,
// then spaces, and fall back to a hard cut. Every piece is an exact substring
// of the input, so provenance offsets stay valid.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidConfig is returned by [New] for a size/overlap pair that cannot
// make progress.
var ErrInvalidConfig = errors.New("chunker: invalid configuration")

// separators are tried in order when choosing a cut point.
var separators = []string{"\n\n", "\n", ". ", " "}

// Piece is one window of the input.
type Piece struct {
	// Offset is the byte offset of Text within the input.
	Offset int
	// Text is the window content.
	Text string
}

// Splitter is a deterministic recursive-separator text splitter. It holds no
// mutable state and is safe for concurrent use.
type Splitter struct {
	size    int
	overlap int
}

// New returns a Splitter. size must be positive and overlap must lie in
// [0, size).
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidConfig, size, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the maximum window length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the minimum shared length between consecutive windows.
func (s *Splitter) Overlap() int { return s.overlap }

// Split cuts text into pieces. Empty input yields no pieces.
func (s *Splitter) Split(text string) []Piece {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)

	// byteAt[i] is the byte offset of rune i; byteAt[n] == len(text).
	byteAt := make([]int, n+1)
	b := 0
	for i, r := range runes {
		byteAt[i] = b
		b += len(string(r))
	}
	byteAt[n] = b

	var pieces []Piece
	start := 0
	for {
		if n-start <= s.size {
			pieces = append(pieces, Piece{Offset: byteAt[start], Text: text[byteAt[start]:]})
			return pieces
		}
		cut := s.cutPoint(runes, start)
		pieces = append(pieces, Piece{Offset: byteAt[start], Text: text[byteAt[start]:byteAt[cut]]})
		start = s.nextStart(runes, start, cut)
	}
}

// cutPoint returns the exclusive end of the window beginning at start.
func (s *Splitter) cutPoint(runes []rune, start int) int {
	end := start + s.size
	window := string(runes[start:end])
	for _, sep := range separators {
		i := strings.LastIndex(window, sep)
		if i < 0 {
			continue
		}
		cut := start + len([]rune(window[:i+len(sep)]))
		if cut-start > s.overlap {
			return cut
		}
	}
	return end
}

// nextStart backs up from cut by overlap runes, then further back to the
// nearest word boundary so the shared prefix does not begin mid-word. The
// extra backtrack is bounded by overlap; past that the word is cut.
func (s *Splitter) nextStart(runes []rune, start, cut int) int {
	next := cut - s.overlap
	if s.overlap == 0 || next <= start {
		return cut
	}
	floor := max(start+1, next-s.overlap)
	for i := next; i >= floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return next
}

// Join reconstructs the input from pieces produced by [Splitter.Split].
func Join(pieces []Piece) string {
	var b strings.Builder
	end := 0
	for _, p := range pieces {
		if tail := p.Offset + len(p.Text) - end; tail > 0 {
			b.WriteString(p.Text[len(p.Text)-tail:])
			end += tail
		}
	}
	return b.String()
}
