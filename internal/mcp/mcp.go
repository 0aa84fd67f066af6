// Package mcp implements the Model Context Protocol surface for Shiko.
//
// The MCP server exposes the reasoning modes as tools, the improvement
// loop's status and manual trigger, and read-only resources over the
// persisted audit trail.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/shiko-ai/shiko/internal/kaizen"
	"github.com/shiko-ai/shiko/internal/model"
	"github.com/shiko-ai/shiko/internal/reasoning"
	"github.com/shiko-ai/shiko/internal/storage"
)

// summaryWindow is the trailing window the metrics summary resource reports.
const summaryWindow = time.Hour

// Store is the read surface the MCP resources need. *storage.DB satisfies it.
type Store interface {
	RecentDiagnoses(ctx context.Context, limit int) ([]model.Diagnosis, error)
	RecentLearnings(ctx context.Context, limit int) ([]model.Learning, error)
	SummarizeInvocations(ctx context.Context, from, to time.Time) ([]storage.InvocationSummary, error)
}

// Recorder receives one record per completed tool call. *metrics.Recorder
// satisfies it.
type Recorder interface {
	Record(inv model.Invocation)
}

// Server wraps the MCP server with Shiko's reasoning engine and kaizen loop.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *reasoning.Engine
	recorder  Recorder
	kaizen    *kaizen.Service
	store     Store
	logger    *slog.Logger
}

// New creates and configures an MCP server with all resources and tools.
func New(engine *reasoning.Engine, recorder Recorder, svc *kaizen.Service, store Store, logger *slog.Logger) *Server {
	s := &Server{
		engine:   engine,
		recorder: recorder,
		kaizen:   svc,
		store:    store,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"shiko",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// shiko_reason — answer a problem with a structured reasoning mode.
	s.mcpServer.AddTool(
		mcplib.NewTool("shiko_reason",
			mcplib.WithDescription("Reason through a problem using a structured strategy: linear, tree, dialectic, decision, or evidence"),
			mcplib.WithString("problem", mcplib.Description("The problem to reason about"), mcplib.Required()),
			mcplib.WithString("mode", mcplib.Description("Reasoning mode: linear, tree, dialectic, decision, evidence"), mcplib.Required()),
			mcplib.WithString("context", mcplib.Description("Optional background to consider")),
		),
		s.handleReason,
	)

	// shiko_score — attach caller-observed quality feedback.
	s.mcpServer.AddTool(
		mcplib.NewTool("shiko_score",
			mcplib.WithDescription("Report how useful a previous answer turned out to be. Feeds the quality signal the self-tuning loop watches."),
			mcplib.WithNumber("quality", mcplib.Description("Observed quality 0.0-1.0"), mcplib.Required()),
			mcplib.WithString("mode", mcplib.Description("Reasoning mode the answer came from")),
		),
		s.handleScore,
	)

	// shiko_kaizen_status — safety state of the improvement loop.
	s.mcpServer.AddTool(
		mcplib.NewTool("shiko_kaizen_status",
			mcplib.WithDescription("Report the self-tuning loop's state: circuit breaker, action budget, baselines, pending approvals, last cycle"),
		),
		s.handleKaizenStatus,
	)

	// shiko_kaizen_cycle — run one improvement cycle now.
	s.mcpServer.AddTool(
		mcplib.NewTool("shiko_kaizen_cycle",
			mcplib.WithDescription("Trigger one self-tuning cycle immediately instead of waiting for the scheduled interval"),
		),
		s.handleKaizenCycle,
	)
}

func (s *Server) handleReason(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	problem := request.GetString("problem", "")
	mode := model.ReasoningMode(request.GetString("mode", ""))
	background := request.GetString("context", "")

	if problem == "" {
		return errorResult("problem is required"), nil
	}

	result, err := s.engine.Reason(ctx, reasoning.Request{
		Problem: problem,
		Mode:    mode,
		Context: background,
	})
	if err != nil {
		// Mode errors are caller mistakes, not invocations worth recording.
		if errors.Is(err, reasoning.ErrUnknownMode) || errors.Is(err, reasoning.ErrModeDisabled) {
			return errorResult(err.Error()), nil
		}
		s.recorder.Record(model.Invocation{
			ToolName:  "shiko_reason",
			Mode:      mode,
			LatencyMS: result.LatencyMS,
			Success:   false,
		})
		return errorResult(fmt.Sprintf("reasoning failed: %v", err)), nil
	}

	quality := result.QualityScore
	s.recorder.Record(model.Invocation{
		ToolName:     "shiko_reason",
		Mode:         mode,
		LatencyMS:    result.LatencyMS,
		Success:      true,
		QualityScore: &quality,
	})

	resultData, _ := json.Marshal(map[string]any{
		"mode":          result.Mode,
		"answer":        result.Answer,
		"quality_score": result.QualityScore,
		"latency_ms":    result.LatencyMS,
		"attempts":      result.Attempts,
	})
	return textResult(string(resultData)), nil
}

func (s *Server) handleScore(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	quality := request.GetFloat("quality", -1)
	if quality < 0 || quality > 1 {
		return errorResult("quality must be between 0.0 and 1.0"), nil
	}

	mode := model.ReasoningMode(request.GetString("mode", string(model.ModeLinear)))
	if !model.IsKnownMode(mode) {
		return errorResult(fmt.Sprintf("unknown mode: %s", mode)), nil
	}

	s.recorder.Record(model.Invocation{
		ToolName:     "shiko_score",
		Mode:         mode,
		Success:      true,
		QualityScore: &quality,
	})

	resultData, _ := json.Marshal(map[string]any{"status": "recorded", "quality": quality})
	return textResult(string(resultData)), nil
}

func (s *Server) handleKaizenStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(s.kaizen.Status(), "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal status: %v", err)), nil
	}
	return textResult(string(data)), nil
}

func (s *Server) handleKaizenCycle(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	result, err := s.kaizen.Orchestrator.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, kaizen.ErrCycleInProgress) {
			return errorResult("a cycle is already running"), nil
		}
		return errorResult(fmt.Sprintf("cycle failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal cycle result: %v", err)), nil
	}
	return textResult(string(data)), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
