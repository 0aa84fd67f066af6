package reasoning

import "testing"

func TestScoreAnswerEmpty(t *testing.T) {
	if got := ScoreAnswer(""); got != 0 {
		t.Errorf("expected 0 for empty answer, got %f", got)
	}
	if got := ScoreAnswer("   \n  "); got != 0 {
		t.Errorf("expected 0 for whitespace answer, got %f", got)
	}
}

func TestScoreAnswerRanking(t *testing.T) {
	// A structured answer with a conclusion must outrank a bare assertion.
	structured := `1. The latency grew because the cache hit rate fell.
2. Therefore the working set no longer fits.
3. An alternative is sharding, however it adds operational cost.

Conclusion: grow the cache before considering sharding, since the evidence
points to a working-set problem rather than a throughput problem. The
trade-off is memory cost against the complexity of a shard migration, and
memory is the cheaper lever at this scale.`
	bare := "Grow the cache."

	s1 := ScoreAnswer(structured)
	s2 := ScoreAnswer(bare)
	if s1 <= s2 {
		t.Errorf("structured answer (%f) should outrank bare assertion (%f)", s1, s2)
	}
	if s1 < 0.8 {
		t.Errorf("expected high score for structured answer, got %f", s1)
	}
}

func TestScoreAnswerRefusal(t *testing.T) {
	refusal := ScoreAnswer("I cannot answer that.")
	plain := ScoreAnswer("The answer is forty-two.")
	if refusal >= plain {
		t.Errorf("refusal (%f) should score below a plain answer (%f)", refusal, plain)
	}
}

func TestScoreAnswerCappedAtOne(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "1. because therefore however alternative assumption evidence trade-off\n- step\n"
	}
	long += "Conclusion: done."
	if got := ScoreAnswer(long); got > 1 {
		t.Errorf("score must be capped at 1, got %f", got)
	}
}
