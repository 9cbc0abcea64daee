package registrar

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// MetricsCollector collects in-process per-tool call metrics.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string]*ToolMetrics
}

// ToolMetrics holds call counters for one tool.
type ToolMetrics struct {
	TotalCalls      int64     `json:"total_calls"`
	SuccessfulCalls int64     `json:"successful_calls"`
	FailedCalls     int64     `json:"failed_calls"`
	LastError       string    `json:"last_error,omitempty"`
	LastErrorTime   time.Time `json:"last_error_time,omitempty"`
	LastCallTime    time.Time `json:"last_call_time"`
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{metrics: make(map[string]*ToolMetrics)}
}

// RecordCall records one tool invocation.
func (mc *MetricsCollector) RecordCall(toolName string, success bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	m := mc.getOrCreate(toolName)
	m.TotalCalls++
	m.LastCallTime = time.Now()
	if success {
		m.SuccessfulCalls++
	} else {
		m.FailedCalls++
	}
}

// RecordError records the most recent error for a tool.
func (mc *MetricsCollector) RecordError(toolName, message string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	m := mc.getOrCreate(toolName)
	m.LastError = message
	m.LastErrorTime = time.Now()
}

// Snapshot returns a copy of all per-tool metrics.
func (mc *MetricsCollector) Snapshot() map[string]ToolMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	out := make(map[string]ToolMetrics, len(mc.metrics))
	for name, m := range mc.metrics {
		out[name] = *m
	}
	return out
}

// Summary aggregates metrics across every tool.
type Summary struct {
	TotalCalls         int64                  `json:"total_calls"`
	OverallSuccessRate float64                `json:"overall_success_rate"`
	Tools              map[string]ToolMetrics `json:"tools"`
}

// Summarize computes the aggregate view served by the tool_metrics resource.
func (mc *MetricsCollector) Summarize() Summary {
	snapshot := mc.Snapshot()

	s := Summary{Tools: snapshot}
	var success int64
	for _, m := range snapshot {
		s.TotalCalls += m.TotalCalls
		success += m.SuccessfulCalls
	}
	if s.TotalCalls > 0 {
		s.OverallSuccessRate = float64(success) / float64(s.TotalCalls) * 100
	}
	return s
}

// Reset clears all metrics.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics = make(map[string]*ToolMetrics)
}

func (mc *MetricsCollector) getOrCreate(toolName string) *ToolMetrics {
	if m, ok := mc.metrics[toolName]; ok {
		return m
	}
	m := &ToolMetrics{}
	mc.metrics[toolName] = m
	return m
}

// Middleware wraps a tool handler to record call metrics.
func (mc *MetricsCollector) Middleware(toolName string, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := handler(ctx, req)

		success := err == nil && isSuccessResult(result)
		mc.RecordCall(toolName, success)
		if err != nil {
			mc.RecordError(toolName, err.Error())
		}

		return result, err
	}
}

// isSuccessResult checks the response envelope's success field.
func isSuccessResult(result *mcp.CallToolResult) bool {
	if result == nil {
		return false
	}
	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return strings.Contains(textContent.Text, `"success":true`)
		}
	}
	return false
}
