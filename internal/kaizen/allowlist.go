package kaizen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shiko-ai/shiko/internal/model"
)

// Allowlist validates proposed actions against configured parameter bounds.
// The permitted universe is pure policy: bounds come from configuration, and
// an action type with no bound entry for a parameter cannot pass with that
// parameter out of range because the parameter itself must be present and
// numeric.
type Allowlist struct {
	// bounds is keyed "<action_type>.<param>" with inclusive [min, max].
	bounds map[string][2]float64
	// keys holds the bound keys in sorted order so the first violated bound
	// reported is deterministic.
	keys []string
}

// NewAllowlist creates an allowlist from configured bounds.
func NewAllowlist(bounds map[string][2]float64) *Allowlist {
	keys := make([]string, 0, len(bounds))
	for k := range bounds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Allowlist{bounds: bounds, keys: keys}
}

// Validate checks an action against the allowlist. The returned
// *ValidationError names the first violated bound.
func (l *Allowlist) Validate(a model.Action) error {
	known := false
	for _, t := range model.ActionTypes {
		if a.Type == t {
			known = true
			break
		}
	}
	if !known {
		return &ValidationError{
			Field:  "type",
			Reason: fmt.Sprintf("unknown action type %q", a.Type),
		}
	}

	// disable_mode is categorical: the mode must exist. No numeric bounds.
	if a.Type == model.ActionDisableMode {
		mode, ok := a.StrParam("mode")
		if !ok {
			return &ValidationError{Field: "mode", Reason: "missing mode parameter"}
		}
		if !model.IsKnownMode(model.ReasoningMode(mode)) {
			return &ValidationError{
				Field:  "mode",
				Reason: fmt.Sprintf("unknown reasoning mode %q", mode),
			}
		}
		return nil
	}

	prefix := string(a.Type) + "."
	checked := false
	for _, key := range l.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		checked = true
		param := strings.TrimPrefix(key, prefix)
		v, ok := a.NumParam(param)
		if !ok {
			return &ValidationError{
				Field:  key,
				Reason: fmt.Sprintf("missing or non-numeric parameter %q", param),
			}
		}
		b := l.bounds[key]
		if v < b[0] || v > b[1] {
			return &ValidationError{
				Field:  key,
				Reason: fmt.Sprintf("value %g outside [%g, %g]", v, b[0], b[1]),
			}
		}
	}
	if !checked {
		// An action type without any configured bound is not permitted.
		return &ValidationError{
			Field:  string(a.Type),
			Reason: "no bounds configured for action type",
		}
	}
	return nil
}
