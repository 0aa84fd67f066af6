package llm

import "context"

// NoopCompleter returns a fixed refusal. Used when no provider is
// configured so the server still starts and serves metrics and status.
type NoopCompleter struct{}

// NewNoopCompleter creates a completer that always declines.
func NewNoopCompleter() *NoopCompleter {
	return &NoopCompleter{}
}

// Name identifies the provider.
func (c *NoopCompleter) Name() string { return "noop" }

// Complete returns a fixed message noting that no model is configured.
func (c *NoopCompleter) Complete(_ context.Context, _ Request) (string, error) {
	return "no language model is configured", nil
}
