package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/54b3r/bpqa-go/internal/answer"
	"github.com/54b3r/bpqa-go/internal/pipeline"
	"github.com/54b3r/bpqa-go/internal/rag"
)

func TestPrintAnswer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printAnswer(&buf, answer.Answer{
		Text: "Use version control.",
		Images: []answer.Image{
			{Filename: "bp1.png", Title: "Branching", Description: "Trunk based flow"},
			{Filename: "bp2.png"},
		},
	})

	want := "Use version control.\n\nImages:\n- bp1.png: Branching (Trunk based flow)\n- bp2.png\n"
	if got := buf.String(); got != want {
		t.Errorf("printAnswer:\n%q\nwant\n%q", got, want)
	}
}

func TestPrintAnswer_NoImages(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printAnswer(&buf, answer.Answer{Text: "Nothing here."})
	if got := buf.String(); got != "Nothing here.\n" {
		t.Errorf("got %q", got)
	}
}

func TestPrintSources(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  pipeline.Outcome
		want []string
	}{
		{
			name: "section answer names the section",
			out:  pipeline.Outcome{Section: "Best Practice 2"},
			want: []string{"Source: Best Practice 2"},
		},
		{
			name: "general answer lists scored hits",
			out: pipeline.Outcome{Sources: []rag.Hit{
				{Chunk: rag.Chunk{Source: "a.txt", Position: 3, Content: "first\npassage"}, Score: 0.91234},
			}},
			want: []string{"Sources:", "[0.912] a.txt #3: first passage"},
		},
		{
			name: "nothing retrieved",
			out:  pipeline.Outcome{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			printSources(&buf, tt.out)
			if len(tt.want) == 0 && buf.Len() != 0 {
				t.Fatalf("expected no output, got %q", buf.String())
			}
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output %q missing %q", buf.String(), w)
				}
			}
		})
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	if got := preview("  a\n b  ", 10); got != "a b" {
		t.Errorf("preview = %q", got)
	}
	if got := preview("ééééé", 3); got != "ééé..." {
		t.Errorf("preview = %q", got)
	}
}
