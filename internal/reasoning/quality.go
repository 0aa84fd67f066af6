package reasoning

import "strings"

// structureMarkers are phrases that indicate the answer actually worked
// through the problem instead of asserting a result.
var structureMarkers = []string{
	"because",
	"therefore",
	"however",
	"alternative",
	"assumption",
	"evidence",
	"trade-off",
	"tradeoff",
}

// ScoreAnswer computes a quality score (0.0-1.0) for a reasoning answer.
// Higher scores indicate more complete, better-structured answers.
//
// Scoring factors:
//   - Substantive length (>200 chars): up to 0.30
//   - Explicit conclusion section: 0.20
//   - Enumerated steps or branches: 0.15
//   - Reasoning vocabulary (causal/contrastive markers): up to 0.25
//   - Not an outright refusal or error string: 0.10
func ScoreAnswer(answer string) float64 {
	trimmed := strings.TrimSpace(answer)
	lower := strings.ToLower(trimmed)
	if trimmed == "" {
		return 0
	}

	var score float64

	// Factor 1: Length. Very short answers rarely show their work.
	switch {
	case len(trimmed) > 800:
		score += 0.30
	case len(trimmed) > 200:
		score += 0.20
	case len(trimmed) > 50:
		score += 0.10
	}

	// Factor 2: An explicit conclusion.
	if strings.Contains(lower, "conclusion") {
		score += 0.20
	}

	// Factor 3: Enumerated structure (numbered steps or bullet branches).
	if strings.Contains(trimmed, "1.") || strings.Contains(trimmed, "1)") ||
		strings.Contains(trimmed, "\n- ") || strings.Contains(trimmed, "\n* ") {
		score += 0.15
	}

	// Factor 4: Reasoning vocabulary, capped at two distinct markers.
	markers := 0
	for _, m := range structureMarkers {
		if strings.Contains(lower, m) {
			markers++
			if markers == 2 {
				break
			}
		}
	}
	score += 0.125 * float64(markers)

	// Factor 5: Not a refusal.
	refusal := strings.HasPrefix(lower, "i cannot") ||
		strings.HasPrefix(lower, "i can't") ||
		strings.Contains(lower, "no language model is configured")
	if !refusal {
		score += 0.10
	}

	if score > 1 {
		score = 1
	}
	return score
}
