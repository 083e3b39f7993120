package llm

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params holds per-call generation settings.
type Params struct {
	Temperature float64
	MaxTokens   int
}
