package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/bpqa-go/internal/answer"
	"github.com/54b3r/bpqa-go/internal/prompt"
	"github.com/54b3r/bpqa-go/internal/rag"
	"github.com/54b3r/bpqa-go/internal/store"
)

// User-facing replies for queries that cannot be answered.
const (
	MsgEmptyQuery          = "Please enter a question."
	MsgNotConfigured       = "The language model is not configured. Set the provider API key and restart."
	MsgCorpusUnavailable   = "The best practice documents cannot be accessed right now. Please try again later."
	MsgIndexNotInitialized = "The document index is not ready yet. Please try again shortly."
	MsgRetrievalFailure    = "The documents could not be searched right now. Please try again."
	MsgGenerationFailure   = "The language model could not produce an answer right now. Please try again."
)

// Modes reported when no selection happened.
const (
	// ModeEmpty marks a blank query.
	ModeEmpty prompt.Mode = "empty"
	// ModeNone marks a query rejected before selection.
	ModeNone prompt.Mode = "none"
)

// Failure classes reported in [Outcome.Failure].
const (
	FailureNone          = ""
	FailureConfiguration = "configuration"
	FailureCorpus        = "corpus_unavailable"
	FailureIndex         = "index_not_initialized"
	FailureRetrieval     = "retrieval"
	FailureGeneration    = "generation"
)

// Outcome describes how a query was handled.
type Outcome struct {
	// Mode is the answering strategy, or ModeEmpty.
	Mode prompt.Mode
	// Section is the section the query named, if any.
	Section string
	// Failure is the failure class, empty on success.
	Failure string
	// Err is the underlying error when Failure is set.
	Err error
	// ParseFallback is set when the model output was not the expected JSON
	// and the raw text was returned instead.
	ParseFallback bool
	// Sources are the retrieved chunks with scores, general mode only.
	Sources []rag.Hit
	// Elapsed is the total handling time.
	Elapsed time.Duration
}

// Handle answers query. It never fails: every error becomes a readable
// answer and is logged.
func (p *Pipeline) Handle(ctx context.Context, query string) answer.Answer {
	ans, _ := p.HandleDetailed(ctx, query)
	return ans
}

// HandleDetailed answers query and reports how it was handled.
func (p *Pipeline) HandleDetailed(ctx context.Context, query string) (answer.Answer, Outcome) {
	started := time.Now()
	ans, out := p.handle(ctx, strings.TrimSpace(query))
	out.Elapsed = time.Since(started)

	attrs := []any{
		slog.String("mode", string(out.Mode)),
		slog.Int("images", len(ans.Images)),
		slog.Duration("elapsed", out.Elapsed),
	}
	if out.Failure != FailureNone {
		p.log.Warn("pipeline: query failed", append(attrs,
			slog.String("failure", out.Failure),
			slog.String("error", errString(out.Err)),
		)...)
	} else {
		p.log.Info("pipeline: query answered", append(attrs, slog.Bool("parse_fallback", out.ParseFallback))...)
	}

	if out.Mode != ModeEmpty {
		p.record(ctx, query, ans, out)
	}
	return ans, out
}

// Classify reports the mode query would be answered in, without answering
// it. A blank query is ModeEmpty and an unreadable corpus ModeNone.
func (p *Pipeline) Classify(ctx context.Context, query string) prompt.Mode {
	query = strings.TrimSpace(query)
	if query == "" {
		return ModeEmpty
	}
	if err := p.EnsureCorpus(ctx); err != nil {
		return ModeNone
	}
	return p.selector.Select(query, p.Corpus()).Mode
}

func (p *Pipeline) handle(ctx context.Context, query string) (answer.Answer, Outcome) {
	if query == "" {
		return answer.Text(MsgEmptyQuery), Outcome{Mode: ModeEmpty}
	}

	if err := p.EnsureCorpus(ctx); err != nil {
		return answer.Text(MsgCorpusUnavailable), Outcome{Mode: ModeNone, Failure: FailureCorpus, Err: err}
	}
	corpus := p.Corpus()

	sel := p.selector.Select(query, corpus)
	out := Outcome{Mode: sel.Mode, Section: sel.Section}

	if !sel.Mode.Generates() {
		if sel.Mode == prompt.ModeListSections {
			return answer.Text(prompt.ListAnswer(corpus.Names())), out
		}
		return answer.Text(prompt.NotFoundAnswer(sel.Section, corpus.Names())), out
	}

	if p.opts.Generator == nil {
		out.Failure, out.Err = FailureConfiguration, ErrConfiguration
		return answer.Text(MsgNotConfigured), out
	}

	contextText := sel.Body
	if sel.Mode == prompt.ModeGeneral {
		if err := p.EnsureIndex(ctx); err != nil {
			out.Err = err
			if errors.Is(err, ErrCorpusUnavailable) || errors.Is(err, rag.ErrEmptyCorpus) {
				out.Failure = FailureCorpus
				return answer.Text(MsgCorpusUnavailable), out
			}
			out.Failure = FailureIndex
			return answer.Text(MsgIndexNotInitialized), out
		}
		hits, err := p.retriever.RetrieveWithScores(ctx, query, p.opts.TopK)
		if err != nil {
			out.Err = err
			if errors.Is(err, rag.ErrIndexNotInitialized) {
				out.Failure = FailureIndex
				return answer.Text(MsgIndexNotInitialized), out
			}
			out.Failure = FailureRetrieval
			return answer.Text(MsgRetrievalFailure), out
		}
		out.Sources = hits
		chunks := make([]rag.Chunk, len(hits))
		for i, h := range hits {
			chunks[i] = h.Chunk
		}
		contextText = prompt.GeneralContext(chunks, p.opts.ContextTokens)
	}

	var images []string
	if p.opts.Catalog != nil {
		images = p.opts.Catalog.Files()
	}
	raw, err := p.opts.Generator.Generate(ctx, prompt.Build(sel, contextText, query, images))
	if err != nil {
		out.Failure, out.Err = FailureGeneration, err
		return answer.Text(MsgGenerationFailure), out
	}

	ans, err := p.parser.Parse(raw)
	if err != nil {
		out.ParseFallback = true
		p.log.Warn("pipeline: model output was not structured, returning raw text",
			slog.String("error", err.Error()),
		)
	}
	return ans, out
}

// record appends the query to the history store. Failures are logged only.
func (p *Pipeline) record(ctx context.Context, query string, ans answer.Answer, out Outcome) {
	if p.opts.History == nil {
		return
	}
	images := make([]string, len(ans.Images))
	for i, img := range ans.Images {
		images[i] = img.Filename
	}
	rec := store.Record{
		Query:   query,
		Mode:    string(out.Mode),
		Answer:  ans.Text,
		Images:  images,
		Failure: out.Failure,
	}
	if err := p.opts.History.Append(context.WithoutCancel(ctx), rec); err != nil {
		p.log.Warn("pipeline: could not record query", slog.String("error", err.Error()))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
