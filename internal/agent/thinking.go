package agent

import (
	"time"
)

// StepType identifies the kind of trace step.
type StepType string

const (
	StepReasoning  StepType = "reasoning"
	StepToolCall   StepType = "tool_call"
	StepToolResult StepType = "tool_result"
	StepResponse   StepType = "response"
)

// Trace records what happened during one Run.
type Trace struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agent_id"`
	Steps     []Step        `json:"steps"`
	Rounds    int           `json:"rounds"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Step is a single entry in a trace.
type Step struct {
	Type       StepType  `json:"type"`
	Content    string    `json:"content"`
	Tool       string    `json:"tool,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	TokensUsed int       `json:"tokens_used,omitempty"`
}

func (t *Trace) add(typ StepType, tool, content string) {
	t.Steps = append(t.Steps, Step{Type: typ, Tool: tool, Content: content, Timestamp: time.Now()})
}
