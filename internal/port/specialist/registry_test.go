package specialist

import (
	"context"
	"testing"

	"github.com/finsight-ai/finsight/internal/domain/advice"
)

type fakeSpecialist struct {
	tag advice.SpecialistTag
}

func (f *fakeSpecialist) Tag() advice.SpecialistTag { return f.tag }

func (f *fakeSpecialist) Invoke(context.Context, string, advice.ContextSnapshot) (*advice.SpecialistResult, error) {
	return &advice.SpecialistResult{Tag: f.tag}, nil
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeSpecialist{tag: advice.TagQuant}); err != nil {
		t.Fatal(err)
	}

	s, ok := r.Get(advice.TagQuant)
	if !ok || s.Tag() != advice.TagQuant {
		t.Fatal("expected registered quant specialist")
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeSpecialist{tag: advice.TagWhale}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeSpecialist{tag: advice.TagWhale}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegisterRejectsUnknownTag(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeSpecialist{tag: "astrology"}); err == nil {
		t.Fatal("expected closed-enum rejection")
	}
}

func TestSelectSkipsUnregistered(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&fakeSpecialist{tag: advice.TagQuant})
	_ = r.Register(&fakeSpecialist{tag: advice.TagSentiment})

	got := r.Select([]advice.SpecialistTag{advice.TagQuant, advice.TagResearch, advice.TagSentiment})
	if len(got) != 2 {
		t.Fatalf("expected 2 specialists, got %d", len(got))
	}
}
