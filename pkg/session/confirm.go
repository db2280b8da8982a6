package session

import (
	"context"
)

// Confirmation decisions understood by ConfirmTool. Anything else,
// including a closed channel, counts as a denial.
const (
	DecisionAllowOnce       = "1"
	DecisionAllowForSession = "2"
	DecisionDeny            = "3"
)

// pendingConfirmation is one outstanding approval request. The reply
// channel is buffered so the resolver never blocks, and it is consumed
// exactly once.
type pendingConfirmation struct {
	requestID string
	toolName  string
	keyPath   string
	reply     chan string
}

func newPendingConfirmation(toolName, keyPath string) *pendingConfirmation {
	return &pendingConfirmation{
		requestID: generateRequestID(),
		toolName:  toolName,
		keyPath:   keyPath,
		reply:     make(chan string, 1),
	}
}

// resolve delivers a decision. Extra resolutions are dropped.
func (p *pendingConfirmation) resolve(decision string) {
	select {
	case p.reply <- decision:
	default:
	}
}

// await blocks until a decision arrives or the run is cancelled.
// Cancellation counts as a denial.
func (p *pendingConfirmation) await(ctx context.Context) string {
	select {
	case decision, ok := <-p.reply:
		if !ok {
			return DecisionDeny
		}
		return decision
	case <-ctx.Done():
		return DecisionDeny
	}
}
