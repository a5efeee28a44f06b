package engine

import "context"

// Actions checked against the access policy.
const (
	ActionBroadcast  = "session:broadcast"
	ActionReadSelf   = "self:read"
	ActionLogoutSelf = "self:logout"
)

// Request is the policy input for one access decision.
type Request struct {
	Action  string
	Subject string
	Roles   []string
}

// Evaluator decides whether a caller may perform an action.
type Evaluator interface {
	// Allow returns the policy decision. Callers must treat an error as a deny.
	Allow(ctx context.Context, req Request) (bool, error)
}
