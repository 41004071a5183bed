package mongo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadrun/threadrun/runtime/run"
)

func TestRunDocumentRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	r := &run.Run{
		ID:          "run_1",
		ThreadID:    "thread_1",
		AssistantID: "asst_1",
		CreatedBy:   "user_1",
		Status:      run.StatusRequiresAction,
		Tools: []run.ToolUsage{
			{Kind: run.ToolFunction, Name: "get_weather", Parameters: json.RawMessage(`{"type":"object"}`)},
			{Kind: run.ToolSystem, ToolID: "web_search", RequiredInputs: []string{"region"}},
			{Kind: run.ToolFileSearch, MaxNumResults: 5},
		},
		ToolApprovals: map[string]run.Policy{"web_search": run.PolicyAlways},
		RequiredAction: run.NewRequiredAction(run.ActionOutput, []run.ToolCall{
			&run.FunctionCall{ID: "call_1", Name: "get_weather", Arguments: `{"location":"Paris"}`},
		}),
		LastError:    &run.RunError{Code: "internal_server_error", Message: "boom"},
		Instructions: "be brief",
		Model:        "gpt-4o",
		Metadata:     map[string]string{"origin": "api"},
		CreatedAt:    now,
		ExpiresAt:    now.Add(10 * time.Minute),
		StartedAt:    now.Add(time.Second),
	}

	got := newRunDocument(r).toRun()

	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Status, got.Status)
	assert.Equal(t, r.Tools, got.Tools)
	assert.Equal(t, r.ToolApprovals, got.ToolApprovals)
	assert.Equal(t, r.LastError, got.LastError)
	assert.Equal(t, r.Metadata, got.Metadata)
	assert.Equal(t, r.ExpiresAt, got.ExpiresAt)
	require.NotNil(t, got.RequiredAction)
	assert.Equal(t, r.RequiredAction.ID, got.RequiredAction.ID)
	assert.Equal(t, run.ActionOutput, got.RequiredAction.Type)
	require.Len(t, got.RequiredAction.ToolCalls, 1)
	call, ok := got.RequiredAction.ToolCalls[0].(*run.FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, `{"location":"Paris"}`, call.Arguments)
}

func TestToolCallDocumentRoundTripPerKind(t *testing.T) {
	calls := []run.ToolCall{
		&run.CodeInterpreterCall{ID: "call_ci", Input: "print(1)", Logs: []string{"1"}, OutputFileIDs: []string{"file_1"}},
		&run.FileSearchCall{ID: "call_fs", Input: "quota", Results: []run.FileSearchResult{{FileID: "file_2", Content: "text", Score: 0.9}}},
		&run.FunctionCall{ID: "call_fn", Name: "get_weather", Arguments: `{}`, Output: `{"temp":21}`},
		&run.SystemCall{ID: "call_sys", ToolID: "web_search", Input: "redis", Output: "found"},
		&run.UserCall{ID: "call_usr", ToolRef: "crm.lookup", Arguments: `{"id":1}`, Output: "ok"},
	}
	for _, tc := range calls {
		got := newToolCallDocument(tc).toToolCall()
		assert.Equal(t, tc, got)
	}
}

func TestStepDocumentCapturesDetails(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	r := run.New(run.NewInput{
		ThreadID:    "thread_1",
		AssistantID: "asst_1",
		Clock:       func() time.Time { return now },
	})
	require.NoError(t, r.Start())

	msgStep := run.NewStep(r, run.MessageCreationDetails{MessageID: "msg_1"})
	doc := newStepDocument(msgStep)
	assert.Equal(t, string(run.StepMessageCreation), doc.Kind)
	assert.Equal(t, "msg_1", doc.MessageID)
	assert.Equal(t, r.ID, doc.RunID)

	toolStep := run.NewStep(r, run.ToolCallsDetails{ToolCalls: []run.ToolCall{
		&run.SystemCall{ID: "call_1", ToolID: "web_search"},
	}})
	doc = newStepDocument(toolStep)
	assert.Equal(t, string(run.StepToolCalls), doc.Kind)
	require.Len(t, doc.ToolCalls, 1)
	assert.Equal(t, "call_1", doc.ToolCalls[0].ID)

	thoughtStep := run.NewStep(r, run.ThoughtDetails{Text: "considering"})
	doc = newStepDocument(thoughtStep)
	assert.Equal(t, string(run.StepThought), doc.Kind)
	assert.Equal(t, "considering", doc.Thought)
}

func TestMessageDocumentMapsFields(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	r := run.New(run.NewInput{
		ThreadID:    "thread_1",
		AssistantID: "asst_1",
		Clock:       func() time.Time { return now },
	})
	require.NoError(t, r.Start())

	m := run.NewMessage(r)
	m.Append("hello")
	m.Complete()

	doc := newMessageDocument(m)
	assert.Equal(t, m.ID, doc.ID)
	assert.Equal(t, "thread_1", doc.ThreadID)
	assert.Equal(t, r.ID, doc.RunID)
	assert.Equal(t, string(run.RoleAssistant), doc.Role)
	assert.Equal(t, "hello", doc.Content)
	assert.Equal(t, string(run.MessageCompleted), doc.Status)
	assert.Equal(t, now, doc.CompletedAt)
}
