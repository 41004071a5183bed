package run

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testClock = func() time.Time {
	return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func newTestRun(t *testing.T) *Run {
	t.Helper()
	r := New(NewInput{
		ThreadID:    "thread_1",
		AssistantID: "asst_1",
		CreatedBy:   "user_1",
		Clock:       testClock,
	})
	require.Equal(t, StatusQueued, r.Status)
	return r
}

func TestNewStampsDeadline(t *testing.T) {
	r := newTestRun(t)
	assert.Equal(t, testClock(), r.CreatedAt)
	assert.Equal(t, testClock().Add(DefaultTTL), r.ExpiresAt)
	assert.True(t, r.Expired(testClock().Add(DefaultTTL+time.Second)))
	assert.False(t, r.Expired(testClock().Add(DefaultTTL-time.Second)))
}

func TestLifecycleHappyPath(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, r.Start())
	assert.Equal(t, StatusInProgress, r.Status)
	assert.Equal(t, testClock(), r.StartedAt)

	require.NoError(t, r.Complete())
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, testClock(), r.CompletedAt)
	assert.True(t, r.Terminal())
}

func TestSuspendResume(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, r.Start())

	call := &SystemCall{ID: "call_1", ToolID: "web_search"}
	action := NewRequiredAction(ActionApprove, []ToolCall{call})
	require.NoError(t, r.RequireAction(action))
	assert.Equal(t, StatusRequiresAction, r.Status)
	assert.Same(t, action, r.RequiredAction)

	require.NoError(t, r.SubmitAction())
	assert.Equal(t, StatusInProgress, r.Status)
	assert.Nil(t, r.RequiredAction)
}

func TestRequireActionNeedsCalls(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, r.Start())
	require.Error(t, r.RequireAction(nil))
	require.Error(t, r.RequireAction(&RequiredAction{Type: ActionApprove}))
	assert.Equal(t, StatusInProgress, r.Status)
}

func TestCancellationIsTwoPhase(t *testing.T) {
	r := newTestRun(t)

	// A queued run has no owner to cancel it.
	var stateErr *StateError
	require.ErrorAs(t, r.StartCancel(), &stateErr)

	require.NoError(t, r.Start())
	require.NoError(t, r.StartCancel())
	assert.Equal(t, StatusCancelling, r.Status)
	assert.False(t, r.Terminal())

	require.NoError(t, r.Cancel())
	assert.Equal(t, StatusCancelled, r.Status)
	assert.Equal(t, testClock(), r.CancelledAt)
}

func TestCancelRequiresCancelling(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, r.Start())
	require.Error(t, r.Cancel())
}

func TestFailFromAnyNonTerminal(t *testing.T) {
	for _, setup := range []func(*Run){
		func(*Run) {},
		func(r *Run) { _ = r.Start() },
		func(r *Run) {
			_ = r.Start()
			_ = r.RequireAction(NewRequiredAction(ActionOutput, []ToolCall{&FunctionCall{ID: "c"}}))
		},
		func(r *Run) { _ = r.Start(); _ = r.StartCancel() },
	} {
		r := newTestRun(t)
		setup(r)
		require.NoError(t, r.Fail(&RunError{Code: "internal_server_error", Message: "boom"}))
		assert.Equal(t, StatusFailed, r.Status)
		assert.Equal(t, "boom", r.LastError.Message)
		assert.Nil(t, r.RequiredAction)
	}
}

func TestExpireFromAnyNonTerminal(t *testing.T) {
	for _, setup := range []func(*Run){
		func(*Run) {},
		func(r *Run) { _ = r.Start() },
		func(r *Run) {
			_ = r.Start()
			_ = r.RequireAction(NewRequiredAction(ActionApprove, []ToolCall{&FunctionCall{ID: "c"}}))
		},
		func(r *Run) { _ = r.Start(); _ = r.StartCancel() },
	} {
		r := newTestRun(t)
		setup(r)
		require.NoError(t, r.Expire())
		assert.Equal(t, StatusExpired, r.Status)
		assert.Nil(t, r.RequiredAction)
	}
}

func TestTerminalIsFinal(t *testing.T) {
	r := newTestRun(t)
	require.NoError(t, r.Start())
	require.NoError(t, r.Complete())

	require.Error(t, r.Start())
	require.Error(t, r.StartCancel())
	require.Error(t, r.Cancel())
	require.Error(t, r.Fail(&RunError{Code: "x"}))
	require.Error(t, r.Expire())
	require.Error(t, r.Complete())
	require.Error(t, r.RequireAction(NewRequiredAction(ActionApprove, []ToolCall{&FunctionCall{ID: "c"}})))
	require.Error(t, r.SubmitAction())
	assert.Equal(t, StatusCompleted, r.Status)
}

func TestApprovalPolicyDefaultsToNever(t *testing.T) {
	r := newTestRun(t)
	assert.Equal(t, PolicyNever, r.ApprovalPolicy("web_search"))
	r.ToolApprovals = map[string]Policy{"web_search": PolicyAlways}
	assert.Equal(t, PolicyAlways, r.ApprovalPolicy("web_search"))
	assert.Equal(t, PolicyNever, r.ApprovalPolicy("other"))
}

// apply names a transition so sequences of them can be generated.
func apply(r *Run, op string) error {
	switch op {
	case "start":
		return r.Start()
	case "start_cancel":
		return r.StartCancel()
	case "cancel":
		return r.Cancel()
	case "fail":
		return r.Fail(&RunError{Code: "internal_server_error"})
	case "expire":
		return r.Expire()
	case "complete":
		return r.Complete()
	case "require_action":
		return r.RequireAction(NewRequiredAction(ActionApprove, []ToolCall{&FunctionCall{ID: "c"}}))
	case "submit_action":
		return r.SubmitAction()
	}
	return nil
}

func TestTransitionProperties(t *testing.T) {
	ops := gen.SliceOf(gen.OneConstOf(
		"start", "start_cancel", "cancel", "fail",
		"expire", "complete", "require_action", "submit_action",
	))

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("terminal state is absorbing and unique", prop.ForAll(
		func(seq []string) bool {
			r := New(NewInput{ThreadID: "t", AssistantID: "a", Clock: testClock})
			terminal := false
			for _, op := range seq {
				err := apply(r, op)
				if terminal && err == nil {
					return false
				}
				terminal = r.Terminal()
			}
			var stamps int
			for _, ts := range []time.Time{r.CancelledAt, r.FailedAt, r.CompletedAt} {
				if !ts.IsZero() {
					stamps++
				}
			}
			if r.Terminal() && r.Status != StatusExpired && stamps != 1 {
				return false
			}
			// RequiredAction only while suspended.
			if r.RequiredAction != nil && r.Status != StatusRequiresAction {
				return false
			}
			return true
		},
		ops,
	))
	properties.TestingRun(t)
}
