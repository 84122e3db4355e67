package budget

import (
	"github.com/flemzord/chatpilot/internal/provider"
)

// Trim selects the maximal suffix of msgs whose cumulative estimated
// cost fits within budget, preferring the most recent messages.
//
// Two deliberate edges:
//   - budget <= 0 returns nil: a misconfigured budget degrades to empty
//     context rather than failing the request.
//   - if even the newest message alone exceeds the budget, that single
//     message is still returned. Silently dropping the most relevant
//     turn would be worse than overshooting the estimate.
//
// Trim is idempotent: Trim(Trim(m, b), b) == Trim(m, b).
func Trim(e Estimator, msgs []provider.Message, budget int) []provider.Message {
	if budget <= 0 || len(msgs) == 0 {
		return nil
	}

	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := EstimateMessage(e, msgs[i])
		if total+cost > budget && start < len(msgs) {
			break
		}
		start = i
		total += cost
		if total >= budget {
			break
		}
	}

	out := make([]provider.Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}

// Plan carves one context window into the three pools the request is
// assembled from, in priority order: system prompt (fixed cost), injected
// external memory, then rolling history. Each pool's leftover feeds the
// next. A zero window disables trimming entirely.
type Plan struct {
	estimator Estimator
	window    int
}

// NewPlan creates a Plan over the given context window. estimator may be
// nil, in which case the default character-class heuristic is used.
func NewPlan(estimator Estimator, window int) Plan {
	if estimator == nil {
		estimator = CharClassEstimator{}
	}
	return Plan{estimator: estimator, window: window}
}

// Enabled reports whether a positive window is configured. When false,
// the rolling history is bounded purely by turn count.
func (p Plan) Enabled() bool { return p.window > 0 }

// Estimator returns the plan's estimator.
func (p Plan) Estimator() Estimator { return p.estimator }

// Apply trims memory and history to fit the window alongside the fixed
// system prompt and the new user turn. The returned slices are the
// trimmed memory pool and the trimmed history suffix.
func (p Plan) Apply(systemPrompt, userText string, memory, history []provider.Message) (mem, hist []provider.Message) {
	if !p.Enabled() {
		return memory, history
	}

	remaining := p.window
	if systemPrompt != "" {
		remaining -= EstimateMessage(p.estimator, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	}
	remaining -= EstimateMessage(p.estimator, provider.Message{Role: provider.RoleUser, Content: userText})
	if len(memory) > 0 {
		remaining -= EstimateMessage(p.estimator, provider.Message{Role: provider.RoleSystem, Content: MemoryHeader})
	}
	if remaining < 0 {
		remaining = 0
	}

	mem = Trim(p.estimator, memory, remaining)
	remaining -= EstimateMessages(p.estimator, mem)
	if remaining < 0 {
		remaining = 0
	}

	hist = Trim(p.estimator, history, remaining)
	return mem, hist
}

// MemoryHeader is the fixed marker injected ahead of external memory
// turns so the model can tell recalled context from the live exchange.
const MemoryHeader = "Previous conversation memory (from local db):"
