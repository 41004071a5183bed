package run

// ActionType discriminates what a suspended run is waiting for.
type ActionType string

const (
	// ActionApprove waits for an allow or deny decision on the listed calls.
	ActionApprove ActionType = "approve"
	// ActionInput waits for values for the listed input fields.
	ActionInput ActionType = "input"
	// ActionOutput waits for the client to execute the calls and submit their
	// outputs.
	ActionOutput ActionType = "output"
)

// RequiredAction describes the client decision a REQUIRES_ACTION run is
// suspended on. Exactly one action is pending at a time; submitting it must
// cover every listed tool call.
type RequiredAction struct {
	ID        string
	Type      ActionType
	ToolCalls []ToolCall

	// InputFields names the fields an ActionInput submission must provide.
	InputFields []string
}

// NewRequiredAction builds a pending action over the given calls.
func NewRequiredAction(typ ActionType, calls []ToolCall) *RequiredAction {
	return &RequiredAction{
		ID:        NewID("action"),
		Type:      typ,
		ToolCalls: calls,
	}
}

// Call returns the pending tool call with the given id, or false when the
// submission references a call outside the action.
func (a *RequiredAction) Call(id string) (ToolCall, bool) {
	for _, tc := range a.ToolCalls {
		if tc.CallID() == id {
			return tc, true
		}
	}
	return nil, false
}
