package model

// WebSocket message types
type WSMessageType string

const (
	WSMessageTypeProgress WSMessageType = "progress"
	WSMessageTypeComplete WSMessageType = "complete"
	WSMessageTypeError    WSMessageType = "error"
	WSMessageTypePing     WSMessageType = "ping"
	WSMessageTypePong     WSMessageType = "pong"
)

type WSMessage struct {
	Type WSMessageType `json:"type"`
}

type WSProgressMessage struct {
	Type       WSMessageType `json:"type"`
	JobID      string        `json:"jobId"`
	Progress   int           `json:"progress"`
	TotalItems int           `json:"totalItems"`
	Status     JobStatus     `json:"status"`
	Message    string        `json:"message,omitempty"`
}

type WSCompleteMessage struct {
	Type   WSMessageType `json:"type"`
	JobID  string        `json:"jobId"`
	Result interface{}   `json:"result,omitempty"`
}

type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type WSErrorMessage struct {
	Type  WSMessageType `json:"type"`
	JobID string        `json:"jobId"`
	Error WSError       `json:"error"`
}
