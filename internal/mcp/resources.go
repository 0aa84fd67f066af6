package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// shiko://kaizen/diagnoses/recent — newest diagnoses, including discarded.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"shiko://kaizen/diagnoses/recent",
			"Recent Diagnoses",
			mcplib.WithResourceDescription("Recent self-tuning diagnoses, including discarded ones"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDiagnosesRecent,
	)

	// shiko://kaizen/learnings/recent — newest learnings with rewards.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"shiko://kaizen/learnings/recent",
			"Recent Learnings",
			mcplib.WithResourceDescription("Recent action evaluations with rewards and lessons"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleLearningsRecent,
	)

	// shiko://metrics/summary — per-tool aggregates for the trailing hour.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"shiko://metrics/summary",
			"Metrics Summary",
			mcplib.WithResourceDescription("Per-tool call statistics for the trailing hour"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleMetricsSummary,
	)
}

func (s *Server) handleDiagnosesRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	diagnoses, err := s.store.RecentDiagnoses(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent diagnoses: %w", err)
	}
	return jsonResource("shiko://kaizen/diagnoses/recent", diagnoses)
}

func (s *Server) handleLearningsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	learnings, err := s.store.RecentLearnings(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent learnings: %w", err)
	}
	return jsonResource("shiko://kaizen/learnings/recent", learnings)
}

func (s *Server) handleMetricsSummary(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	now := time.Now().UTC()
	summary, err := s.store.SummarizeInvocations(ctx, now.Add(-summaryWindow), now)
	if err != nil {
		return nil, fmt.Errorf("mcp: metrics summary: %w", err)
	}
	return jsonResource("shiko://metrics/summary", summary)
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
