package mock

import (
	"context"
	"errors"
	"testing"
)

func TestEmbed_DerivedVectorsAreDeterministic(t *testing.T) {
	p := &Provider{DimensionsValue: 8}
	ctx := context.Background()

	a1, err := p.Embed(ctx, "watered the plants")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	a2, _ := p.Embed(ctx, "watered the plants")
	b, _ := p.Embed(ctx, "fed the cat")

	if len(a1) != 8 {
		t.Fatalf("vector length = %d, want 8", len(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatal("same text derived different vectors")
		}
	}
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
		}
	}
	if same {
		t.Fatal("different texts derived the same vector")
	}
}

func TestEmbedBatch_RecordsTextsAndScriptsResults(t *testing.T) {
	p := &Provider{EmbedResult: []float32{1, 2, 3}, DimensionsValue: 3}

	vecs, err := p.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][2] != 3 {
		t.Errorf("scripted result not returned: %v", vecs)
	}
	if len(p.Calls) != 2 || p.Calls[0] != "one" || p.Calls[1] != "two" {
		t.Errorf("Calls = %v", p.Calls)
	}

	p.Err = errors.New("down")
	if _, err := p.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Error("expected scripted error")
	}
}
