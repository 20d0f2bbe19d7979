package client

// Status is the per-turn chat state machine. Transitions within one turn are
// always a subsequence of ready -> submitted -> streaming -> (ready | error);
// a new SendMessage is the only way back to submitted from error.
type Status string

const (
	// StatusReady means no turn is in flight and SendMessage is accepted.
	StatusReady Status = "ready"
	// StatusSubmitted means the request has been sent but no content has
	// arrived yet.
	StatusSubmitted Status = "submitted"
	// StatusStreaming means at least one text-delta has arrived.
	StatusStreaming Status = "streaming"
	// StatusError means the turn failed terminally. Partial assistant
	// content already streamed stays visible.
	StatusError Status = "error"
)
