package types

// HistoryEntry is one line of the transcript the client holds.
type HistoryEntry struct {
	Role string `json:"role" toml:"role"`
	Text string `json:"text" toml:"text"`
}

type ChatRequest struct {
	Message string         `json:"message"`
	History []HistoryEntry `json:"history,omitempty"`
}

// ChatResponse carries the assistant reply. Committed is false when the
// reply is a notice and neither turn was stored.
type ChatResponse struct {
	Reply     string `json:"reply"`
	Committed bool   `json:"committed"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}
