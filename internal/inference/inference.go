package inference

import "time"

// Message is a normalized representation of a chat message.
type Message struct {
	Role    string
	Content string
}

// Request represents a normalized completion request that RAGGuard sends to
// an upstream model provider. Both the guardrail judge and the payment agent
// speak this shape; providers map it onto their own wire formats.
type Request struct {
	Model    string
	Messages []Message
}

// Usage holds token accounting as reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response represents a normalized completion response.
type Response struct {
	Message Message
	Usage   Usage
}

// Timings holds latency measurements for the stages of a single query.
type Timings struct {
	Retrieval time.Duration
	Judge     time.Duration
	Agent     time.Duration
}
