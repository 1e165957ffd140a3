package internal

// Session represents an agent or chat session flattened for export
type Session struct {
	ID       string    `json:"id" yaml:"id"`
	Trigger  string    `json:"trigger" yaml:"trigger"`
	Status   string    `json:"status" yaml:"status"`
	Summary  string    `json:"summary,omitempty" yaml:"summary,omitempty"`
	Messages []Message `json:"messages" yaml:"messages"`
	Metadata Metadata  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Message represents one exported entry: a chat message or a ledger action
type Message struct {
	Timestamp string `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Actor     string `json:"actor" yaml:"actor"` // "user", "assistant", "tool"
	Tool      string `json:"tool,omitempty" yaml:"tool,omitempty"`
	Status    string `json:"status,omitempty" yaml:"status,omitempty"`
	Content   string `json:"content" yaml:"content"`
}

// Metadata contains additional session information
type Metadata struct {
	StartedAt    string  `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt  string  `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	MessageCount int     `json:"message_count" yaml:"message_count"`
	ToolCalls    int     `json:"tool_calls" yaml:"tool_calls"`
	CostUSD      float64 `json:"cost_usd" yaml:"cost_usd"`
	Error        string  `json:"error,omitempty" yaml:"error,omitempty"`
}
