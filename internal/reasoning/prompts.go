package reasoning

import "github.com/shiko-ai/shiko/internal/model"

const basePrompt = `You are a careful reasoning assistant. Work through the problem before answering.
State your final answer clearly at the end under a "Conclusion" heading.`

var modePrompts = map[model.ReasoningMode]string{
	model.ModeLinear: basePrompt + `
Reason step by step in a single numbered chain. Each step must follow from
the previous one. Do not branch.`,

	model.ModeTree: basePrompt + `
Explore at least three distinct solution branches. For each branch, note its
key assumption and where it leads. Prune branches that fail and say why,
then develop the most promising one to completion.`,

	model.ModeDialectic: basePrompt + `
Argue the strongest case for a position (thesis), then the strongest case
against it (antithesis), then reconcile them into a synthesis that addresses
the best points of both.`,

	model.ModeDecision: basePrompt + `
Identify the options, the criteria that matter, and the trade-offs. Weigh
each option against each criterion, name at least one rejected alternative
with its rejection reason, and recommend one option.`,

	model.ModeEvidence: basePrompt + `
List the claims the answer depends on. For each claim, state the supporting
evidence and how confident you are in it. Flag claims that rest on
assumption rather than evidence, then answer based on the supported claims.`,
}

func modePrompt(mode model.ReasoningMode) string {
	if p, ok := modePrompts[mode]; ok {
		return p
	}
	return basePrompt
}
