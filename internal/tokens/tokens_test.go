package tokens

import "testing"

func TestCountEmpty(t *testing.T) {
	e := NewEstimator()
	if n := e.Count(""); n != 0 {
		t.Errorf("expected 0 tokens for empty text, got %d", n)
	}
}

func TestCountNonEmpty(t *testing.T) {
	e := NewEstimator()
	n := e.Count("Hello, how are you today?")
	if n <= 0 {
		t.Errorf("expected positive token count, got %d", n)
	}
	if n > 25 {
		t.Errorf("count %d implausibly high for a short sentence", n)
	}
}

func TestEstimateUsageTotalsAdd(t *testing.T) {
	e := NewEstimator()
	usage := e.EstimateUsage("what is the capital of France?", "The capital of France is Paris.")
	if usage.Total != usage.Prompt+usage.Completion {
		t.Errorf("total %d != prompt %d + completion %d", usage.Total, usage.Prompt, usage.Completion)
	}
	if usage.Prompt == 0 || usage.Completion == 0 {
		t.Errorf("expected non-zero prompt and completion estimates, got %+v", usage)
	}
}
