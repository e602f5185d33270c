package embedding

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"evidence-rag/internal/config"
)

type countingEmbedder struct {
	calls []int
	fail  bool
}

func (c *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if c.fail {
		return nil, errors.New("backend down")
	}
	c.calls = append(c.calls, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func (c *countingEmbedder) ModelID() string { return "counting" }

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestGenerateEmbeddings_BatchesPreserveOrder(t *testing.T) {
	e := &countingEmbedder{}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}

	vectors, err := GenerateEmbeddings(context.Background(), e, texts, 2)
	if err != nil {
		t.Fatalf("embedding failed: %v", err)
	}
	if !reflect.DeepEqual(e.calls, []int{2, 2, 1}) {
		t.Errorf("batch sizes = %v", e.calls)
	}
	for i, v := range vectors {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vector %d out of order", i)
		}
	}
}

func TestGenerateEmbeddings_PropagatesError(t *testing.T) {
	_, err := GenerateEmbeddings(context.Background(), &countingEmbedder{fail: true}, []string{"x"}, 0)
	if err == nil {
		t.Error("expected error")
	}
}

func TestHashEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	a, _ := e.EmbedQuery(context.Background(), "Blood pressure and hypertension")
	b, _ := e.EmbedQuery(context.Background(), "blood PRESSURE and Hypertension")
	if !reflect.DeepEqual(a, b) {
		t.Error("hash embedding should be case-insensitive and deterministic")
	}
	if math.Abs(norm(a)-1) > 1e-5 {
		t.Errorf("vector not normalized: %f", norm(a))
	}
	empty, _ := e.EmbedQuery(context.Background(), "")
	if norm(empty) != 0 {
		t.Error("empty text should embed to zero vector")
	}
	if e.ModelID() != "hash-64" {
		t.Errorf("model id = %s", e.ModelID())
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	e, err := New(&config.LLMConfig{Provider: ProviderHash, Dimension: 32})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*HashEmbedder); !ok {
		t.Errorf("expected HashEmbedder, got %T", e)
	}
	if _, err := New(&config.LLMConfig{Provider: "nope"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("got %v", v)
	}
}
