package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder is the metrics capability components depend on.
type Recorder interface {
	RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, promptTokens, completionTokens int, err error)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
	RecordAgentTurn(ctx context.Context, agentType string, duration time.Duration, tokens int, err error)
	RecordMemoryTask(ctx context.Context, kind string, outcome string)
	RecordSessionOpen(ctx context.Context)
	RecordSessionClose(ctx context.Context, reason string)
	RecordFrame(ctx context.Context, frameType string)
}

// NopRecorder discards every measurement.
type NopRecorder struct{}

func (NopRecorder) RecordLLMCall(context.Context, string, string, time.Duration, int, int, error) {}
func (NopRecorder) RecordToolCall(context.Context, string, time.Duration, error)                  {}
func (NopRecorder) RecordAgentTurn(context.Context, string, time.Duration, int, error)            {}
func (NopRecorder) RecordMemoryTask(context.Context, string, string)                              {}
func (NopRecorder) RecordSessionOpen(context.Context)                                             {}
func (NopRecorder) RecordSessionClose(context.Context, string)                                    {}
func (NopRecorder) RecordFrame(context.Context, string)                                           {}

// metricsRecorder implements Recorder over otel instruments.
type metricsRecorder struct {
	llmDuration     metric.Float64Histogram
	llmRequests     metric.Int64Counter
	llmErrors       metric.Int64Counter
	llmPromptToks   metric.Int64Counter
	llmCompleteToks metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	agentDuration metric.Float64Histogram
	agentTurns    metric.Int64Counter
	agentErrors   metric.Int64Counter
	agentTokens   metric.Int64Counter

	memoryTasks metric.Int64Counter

	sessionsActive metric.Int64UpDownCounter
	sessionsClosed metric.Int64Counter
	framesSent     metric.Int64Counter
}

func newMetricsRecorder(meter metric.Meter) (*metricsRecorder, error) {
	r := &metricsRecorder{}

	instruments := []struct {
		target any
		name   string
		desc   string
	}{
		{&r.llmDuration, "greenroom_llm_request_duration_seconds", "LLM request duration in seconds"},
		{&r.llmRequests, "greenroom_llm_requests_total", "Total LLM requests"},
		{&r.llmErrors, "greenroom_llm_errors_total", "Total LLM errors"},
		{&r.llmPromptToks, "greenroom_llm_tokens_prompt_total", "Total prompt tokens sent"},
		{&r.llmCompleteToks, "greenroom_llm_tokens_completion_total", "Total completion tokens received"},
		{&r.toolDuration, "greenroom_tool_execution_duration_seconds", "Tool execution duration in seconds"},
		{&r.toolCalls, "greenroom_tool_calls_total", "Total tool calls"},
		{&r.toolErrors, "greenroom_tool_errors_total", "Total tool errors"},
		{&r.agentDuration, "greenroom_agent_turn_duration_seconds", "Agent turn duration in seconds"},
		{&r.agentTurns, "greenroom_agent_turns_total", "Total agent turns"},
		{&r.agentErrors, "greenroom_agent_errors_total", "Total agent turn errors"},
		{&r.agentTokens, "greenroom_agent_tokens_used_total", "Total tokens used by agent turns"},
		{&r.memoryTasks, "greenroom_memory_tasks_total", "Background memory tasks by kind and outcome"},
		{&r.sessionsActive, "greenroom_ws_sessions_active", "Currently open websocket sessions"},
		{&r.sessionsClosed, "greenroom_ws_sessions_closed_total", "Closed websocket sessions by reason"},
		{&r.framesSent, "greenroom_ws_frames_sent_total", "Outbound websocket frames by type"},
	}

	for _, inst := range instruments {
		var err error
		switch target := inst.target.(type) {
		case *metric.Float64Histogram:
			*target, err = meter.Float64Histogram(inst.name, metric.WithDescription(inst.desc))
		case *metric.Int64Counter:
			*target, err = meter.Int64Counter(inst.name, metric.WithDescription(inst.desc))
		case *metric.Int64UpDownCounter:
			*target, err = meter.Int64UpDownCounter(inst.name, metric.WithDescription(inst.desc))
		}
		if err != nil {
			return nil, fmt.Errorf("create instrument %s: %w", inst.name, err)
		}
	}
	return r, nil
}

func (r *metricsRecorder) RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, promptTokens, completionTokens int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	r.llmDuration.Record(ctx, duration.Seconds(), attrs)
	r.llmRequests.Add(ctx, 1, attrs)
	r.llmPromptToks.Add(ctx, int64(promptTokens), attrs)
	r.llmCompleteToks.Add(ctx, int64(completionTokens), attrs)
	if err != nil {
		r.llmErrors.Add(ctx, 1, attrs)
	}
}

func (r *metricsRecorder) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	r.toolDuration.Record(ctx, duration.Seconds(), attrs)
	r.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		r.toolErrors.Add(ctx, 1, attrs)
	}
}

func (r *metricsRecorder) RecordAgentTurn(ctx context.Context, agentType string, duration time.Duration, tokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("agent_type", agentType))
	r.agentDuration.Record(ctx, duration.Seconds(), attrs)
	r.agentTurns.Add(ctx, 1, attrs)
	if tokens > 0 {
		r.agentTokens.Add(ctx, int64(tokens), attrs)
	}
	if err != nil {
		r.agentErrors.Add(ctx, 1, attrs)
	}
}

func (r *metricsRecorder) RecordMemoryTask(ctx context.Context, kind string, outcome string) {
	r.memoryTasks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (r *metricsRecorder) RecordSessionOpen(ctx context.Context) {
	r.sessionsActive.Add(ctx, 1)
}

func (r *metricsRecorder) RecordSessionClose(ctx context.Context, reason string) {
	r.sessionsActive.Add(ctx, -1)
	r.sessionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *metricsRecorder) RecordFrame(ctx context.Context, frameType string) {
	r.framesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", frameType)))
}
