package answer

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/54b3r/bpqa-go/internal/catalog"
)

func testCatalog() *catalog.Catalog {
	return catalog.New(map[string]catalog.Entry{
		"bp1.png": {Title: "Key rotation", Description: "Rotation schedule"},
	}, []string{"bp2.png"})
}

func TestParse(t *testing.T) {
	t.Parallel()

	rotation := Image{Filename: "bp1.png", Title: "Key rotation", Description: "Rotation schedule"}

	tests := []struct {
		name    string
		raw     string
		want    Answer
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"texto": "Rotate keys.", "imagenes": ["bp1.png"]}`,
			want: Answer{Text: "Rotate keys.", Images: []Image{rotation}},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"texto\": \"Rotate keys.\", \"imagenes\": [\"bp1.png\"]}\n```",
			want: Answer{Text: "Rotate keys.", Images: []Image{rotation}},
		},
		{
			name: "bare fence",
			raw:  "```\n{\"texto\": \"Hi\"}\n```",
			want: Answer{Text: "Hi", Images: []Image{}},
		},
		{
			name: "prose around json",
			raw:  "Sure! Here is the answer: {\"texto\": \"Use TLS.\", \"imagenes\": []} Hope it helps.",
			want: Answer{Text: "Use TLS.", Images: []Image{}},
		},
		{
			name: "missing texto",
			raw:  `{"imagenes": ["bp2.png"]}`,
			want: Answer{Text: Placeholder, Images: []Image{{Filename: "bp2.png"}}},
		},
		{
			name: "missing imagenes",
			raw:  `{"texto": "Only text"}`,
			want: Answer{Text: "Only text", Images: []Image{}},
		},
		{
			name: "null texto",
			raw:  `{"texto": null, "imagenes": ["bp2.png"]}`,
			want: Answer{Text: Placeholder, Images: []Image{{Filename: "bp2.png"}}},
		},
		{
			name: "null imagenes",
			raw:  `{"texto": "Only text", "imagenes": null}`,
			want: Answer{Text: "Only text", Images: []Image{}},
		},
		{
			name: "unknown image passes through",
			raw:  `{"texto": "x", "imagenes": ["ghost.png", "bp1.png", "ghost.png"]}`,
			want: Answer{Text: "x", Images: []Image{{Filename: "ghost.png"}, rotation}},
		},
		{
			name:    "prose fallback",
			raw:     "  The answer is to rotate keys.\n",
			want:    Answer{Text: "  The answer is to rotate keys.\n", Images: []Image{}},
			wantErr: true,
		},
		{
			name:    "array top level",
			raw:     `["texto"]`,
			want:    Answer{Text: `["texto"]`, Images: []Image{}},
			wantErr: true,
		},
		{
			name:    "wrong field types",
			raw:     `{"texto": 42, "imagenes": "bp1.png"}`,
			want:    Answer{Text: `{"texto": 42, "imagenes": "bp1.png"}`, Images: []Image{}},
			wantErr: true,
		},
		{
			name:    "truncated json",
			raw:     `{"texto": "cut off`,
			want:    Answer{Text: `{"texto": "cut off`, Images: []Image{}},
			wantErr: true,
		},
		{
			name:    "empty",
			raw:     "   ",
			want:    Answer{Text: "   ", Images: []Image{}},
			wantErr: true,
		},
	}

	p := NewParser(testCatalog(), false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := p.Parse(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrParseFailure) {
				t.Errorf("err = %v, want ErrParseFailure", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParse_DropUnknown(t *testing.T) {
	t.Parallel()

	p := NewParser(testCatalog(), true)
	got, err := p.Parse(`{"texto": "x", "imagenes": ["ghost.png", "bp2.png"]}`)
	if err != nil {
		t.Fatal(err)
	}
	want := []Image{{Filename: "bp2.png"}}
	if !reflect.DeepEqual(got.Images, want) {
		t.Errorf("Images = %+v, want %+v", got.Images, want)
	}
}

func TestParse_NilCatalog(t *testing.T) {
	t.Parallel()

	got, err := NewParser(nil, false).Parse(`{"texto": "x", "imagenes": ["a.png"]}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Images) != 1 || got.Images[0].Filename != "a.png" {
		t.Errorf("Images = %+v", got.Images)
	}
}

func TestAnswer_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Text("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"text":"hello","images":[]}` {
		t.Errorf("json = %s", b)
	}
}
