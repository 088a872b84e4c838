package domain

import "context"

type ctxKey string

const agentIDCtxKey ctxKey = "agent_id"

// ContextWithAgentID returns a new context carrying the id of the agent a
// host call or protocol operation is being performed on behalf of.
func ContextWithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDCtxKey, agentID)
}

// AgentIDFromContext extracts the agent id from the context.
// Returns empty string if not set.
func AgentIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(agentIDCtxKey).(string); ok {
		return v
	}
	return ""
}
