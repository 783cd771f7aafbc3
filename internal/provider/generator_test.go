package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeChatModel records the last call and replies with a canned message.
type fakeChatModel struct {
	reply   string
	err     error
	block   bool
	gotMsgs []*schema.Message
	gotOpts *model.Options
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.gotMsgs = input
	f.gotOpts = model.GetCommonOptions(&model.Options{}, opts...)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestGenerator_Generate(t *testing.T) {
	t.Parallel()

	fake := &fakeChatModel{reply: `{"texto":"ok"}`}
	g := NewGenerator(fake, "fake:model", &SharedTuning{MaxTokens: 256, Temperature: 0.3, TopP: 0.8}, time.Second)

	got, err := g.Generate(context.Background(), "the prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != `{"texto":"ok"}` {
		t.Errorf("Generate() = %q", got)
	}
	if len(fake.gotMsgs) != 1 || fake.gotMsgs[0].Role != schema.User || fake.gotMsgs[0].Content != "the prompt" {
		t.Errorf("messages = %+v, want one user message", fake.gotMsgs)
	}
	o := fake.gotOpts
	if o.MaxTokens == nil || *o.MaxTokens != 256 {
		t.Errorf("MaxTokens = %v", o.MaxTokens)
	}
	if o.Temperature == nil || *o.Temperature != 0.3 {
		t.Errorf("Temperature = %v", o.Temperature)
	}
	if o.TopP == nil || *o.TopP != 0.8 {
		t.Errorf("TopP = %v", o.TopP)
	}
	if g.Name() != "fake:model" {
		t.Errorf("Name() = %q", g.Name())
	}
}

func TestGenerator_NoSampling(t *testing.T) {
	t.Parallel()

	fake := &fakeChatModel{reply: "x"}
	g := NewGenerator(fake, "fake", nil, 0)
	if _, err := g.Generate(context.Background(), "p"); err != nil {
		t.Fatal(err)
	}
	if fake.gotOpts.Temperature != nil || fake.gotOpts.MaxTokens != nil || fake.gotOpts.TopP != nil {
		t.Errorf("options sent for a reasoning model: %+v", fake.gotOpts)
	}
}

func TestGenerator_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model *fakeChatModel
	}{
		{name: "backend error", model: &fakeChatModel{err: errors.New("503 overloaded")}},
		{name: "empty completion", model: &fakeChatModel{reply: "   "}},
		{name: "timeout", model: &fakeChatModel{block: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewGenerator(tt.model, "fake", &SharedTuning{}, 20*time.Millisecond)
			_, err := g.Generate(context.Background(), "p")
			if !errors.Is(err, ErrGenerationFailure) {
				t.Fatalf("err = %v, want ErrGenerationFailure", err)
			}
		})
	}
}

func TestNewFromEnv_MissingCredential(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewFromEnv(context.Background(), time.Second)
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
}
