package run

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageCallName(t *testing.T) {
	cases := []struct {
		usage ToolUsage
		want  string
	}{
		{ToolUsage{Kind: ToolCodeInterpreter}, "code_interpreter"},
		{ToolUsage{Kind: ToolFileSearch}, "file_search"},
		{ToolUsage{Kind: ToolFunction, Name: "get_weather"}, "get_weather"},
		{ToolUsage{Kind: ToolSystem, ToolID: "web_search"}, "web_search"},
		{ToolUsage{Kind: ToolUser, ToolRef: "tool_abc"}, "tool_abc"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.usage.CallName())
	}
}

func TestUsageFor(t *testing.T) {
	r := &Run{Tools: []ToolUsage{
		{Kind: ToolFunction, Name: "get_weather"},
		{Kind: ToolSystem, ToolID: "web_search"},
	}}

	u, ok := r.UsageFor("web_search")
	require.True(t, ok)
	assert.Equal(t, ToolSystem, u.Kind)

	_, ok = r.UsageFor("unknown")
	assert.False(t, ok)
}

func TestNewToolCallClassification(t *testing.T) {
	args := json.RawMessage(`{"code":"print(1)","query":"redis","location":"Paris"}`)

	call, err := NewToolCall(ToolUsage{Kind: ToolCodeInterpreter}, args)
	require.NoError(t, err)
	ci, ok := call.(*CodeInterpreterCall)
	require.True(t, ok)
	assert.Equal(t, "print(1)", ci.Input)
	assert.NotEmpty(t, ci.ID)

	call, err = NewToolCall(ToolUsage{Kind: ToolFileSearch}, args)
	require.NoError(t, err)
	fs, ok := call.(*FileSearchCall)
	require.True(t, ok)
	assert.Equal(t, "redis", fs.Input)

	call, err = NewToolCall(ToolUsage{Kind: ToolFunction, Name: "get_weather"}, args)
	require.NoError(t, err)
	fn, ok := call.(*FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "get_weather", fn.Name)
	assert.Equal(t, string(args), fn.Arguments)

	call, err = NewToolCall(ToolUsage{Kind: ToolSystem, ToolID: "web_search"}, args)
	require.NoError(t, err)
	sys, ok := call.(*SystemCall)
	require.True(t, ok)
	assert.Equal(t, "web_search", sys.ToolID)

	call, err = NewToolCall(ToolUsage{Kind: ToolUser, ToolRef: "tool_abc"}, args)
	require.NoError(t, err)
	usr, ok := call.(*UserCall)
	require.True(t, ok)
	assert.Equal(t, "tool_abc", usr.ToolRef)

	_, err = NewToolCall(ToolUsage{Kind: ToolKind("bogus")}, args)
	require.Error(t, err)
}

func TestApprovalKeys(t *testing.T) {
	cases := []struct {
		call ToolCall
		want string
	}{
		{&CodeInterpreterCall{ID: "c1"}, "code_interpreter"},
		{&FileSearchCall{ID: "c2"}, "file_search"},
		{&FunctionCall{ID: "c3", Name: "get_weather"}, "function"},
		{&SystemCall{ID: "c4", ToolID: "web_search"}, "web_search"},
		{&UserCall{ID: "c5", ToolRef: "tool_abc"}, "tool_abc"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.call.ApprovalKey())
	}
}

func TestRequiredActionCallLookup(t *testing.T) {
	call := &FunctionCall{ID: "call_1", Name: "get_weather"}
	action := NewRequiredAction(ActionOutput, []ToolCall{call})
	require.NotEmpty(t, action.ID)

	got, ok := action.Call("call_1")
	require.True(t, ok)
	assert.Same(t, ToolCall(call), got)

	_, ok = action.Call("call_2")
	assert.False(t, ok)
}

func TestStringFieldFallsBackToRawArguments(t *testing.T) {
	call, err := NewToolCall(ToolUsage{Kind: ToolCodeInterpreter}, json.RawMessage(`"just code"`))
	require.NoError(t, err)
	assert.Equal(t, `"just code"`, call.(*CodeInterpreterCall).Input)
}
