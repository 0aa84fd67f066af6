package kaizen

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/shiko-ai/shiko/internal/config"
	"github.com/shiko-ai/shiko/internal/llm"
	"github.com/shiko-ai/shiko/internal/model"
	"github.com/shiko-ai/shiko/internal/overrides"
)

// Service bundles the loop's components behind one constructor so callers
// (main, the HTTP server, the MCP tools) see a single surface.
type Service struct {
	Orchestrator *Orchestrator
	Monitor      *Monitor
	Breaker      *CircuitBreaker
	Limiter      *ActionLimiter
	Approvals    *ApprovalGate

	enabled bool
}

// NewService builds the full loop from configuration.
func NewService(cfg config.KaizenConfig, store Store, resolver *overrides.Resolver, gateway *llm.Gateway, logger *slog.Logger) *Service {
	clock := NewClock()

	monitor := NewMonitor(store, cfg, clock, logger)
	breaker := NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, clock, logger)
	limiter := NewActionLimiter(cfg.ActionLimit, cfg.ActionWindow, clock)
	allowlist := NewAllowlist(cfg.Bounds)
	approvals := NewApprovalGate(cfg.ApprovalTimeout, logger)

	analyzer := NewAnalyzer(store, gateway, cfg.LLMTimeout, logger)
	executor := NewExecutor(store, resolver, monitor, breaker, limiter, allowlist, approvals, cfg, clock, logger)
	learner := NewLearner(store, gateway, nil, monitor, cfg.LLMTimeout, logger)
	orchestrator := NewOrchestrator(monitor, analyzer, executor, learner, store, breaker, cfg, clock, logger)

	return &Service{
		Orchestrator: orchestrator,
		Monitor:      monitor,
		Breaker:      breaker,
		Limiter:      limiter,
		Approvals:    approvals,
		enabled:      cfg.Enabled,
	}
}

// Status is a point-in-time view of the loop's safety state.
type Status struct {
	Enabled          bool               `json:"enabled"`
	BreakerState     BreakerState       `json:"breaker_state"`
	ActionsRemaining int                `json:"actions_remaining"`
	Baselines        map[string]float64 `json:"baselines"`
	ThresholdScales  map[string]float64 `json:"threshold_scales"`
	PendingApprovals []uuid.UUID        `json:"pending_approvals"`
	LastCycle        *model.CycleResult `json:"last_cycle,omitempty"`
}

// Status reports the loop's current safety state.
func (s *Service) Status() Status {
	return Status{
		Enabled:          s.enabled,
		BreakerState:     s.Breaker.State(),
		ActionsRemaining: s.Limiter.Remaining(),
		Baselines:        s.Monitor.Baselines(),
		ThresholdScales:  s.Monitor.ThresholdScales(),
		PendingApprovals: s.Approvals.Pending(),
		LastCycle:        s.Orchestrator.LastResult(),
	}
}

// Enabled reports whether the periodic loop should run.
func (s *Service) Enabled() bool { return s.enabled }
