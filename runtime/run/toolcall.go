package run

import (
	"encoding/json"
	"fmt"
)

// ToolKind discriminates the closed set of tool call variants.
type ToolKind string

const (
	ToolCodeInterpreter ToolKind = "code_interpreter"
	ToolFileSearch      ToolKind = "file_search"
	ToolFunction        ToolKind = "function"
	ToolSystem          ToolKind = "system"
	ToolUser            ToolKind = "user"
)

// ToolUsage declares one tool available to a run. The set of usages is fixed
// at creation; tool call classification resolves engine tool names against it.
type ToolUsage struct {
	Kind ToolKind

	// Name and Parameters describe function tools. Parameters is the JSON
	// schema for the function arguments; call arguments are validated
	// against it before the call is dispatched.
	Name       string
	Parameters json.RawMessage

	// ToolID names the built-in system tool (e.g. "web_search").
	ToolID string

	// ToolRef references a user-defined tool record.
	ToolRef string

	// MaxNumResults caps file search results. Zero uses the engine default.
	MaxNumResults int

	// RequiredInputs names call-time input fields that must be supplied by
	// the client through the input gate before the tool may execute.
	RequiredInputs []string
}

// CallName is the name under which the agent engine addresses this usage.
func (u ToolUsage) CallName() string {
	switch u.Kind {
	case ToolFunction:
		return u.Name
	case ToolSystem:
		return u.ToolID
	case ToolUser:
		return u.ToolRef
	default:
		return string(u.Kind)
	}
}

// ToolCall is the closed union of tool call variants. Concrete types carry
// kind-specific input at creation and kind-specific output once finalized.
type ToolCall interface {
	// CallID returns the unique tool call identifier.
	CallID() string
	// Kind returns the variant discriminator.
	Kind() ToolKind
	// ApprovalKey returns the identity used to look up the approval policy:
	// the tool's own reference for user tools, the declared tool id for
	// system tools, the variant kind for built-ins and functions.
	ApprovalKey() string

	sealedToolCall()
}

// CodeInterpreterCall runs code in the sandboxed interpreter.
type CodeInterpreterCall struct {
	ID    string
	Input string // source code

	// Outputs, attached on finalization.
	Logs          []string
	OutputFileIDs []string
}

func (c *CodeInterpreterCall) CallID() string      { return c.ID }
func (c *CodeInterpreterCall) Kind() ToolKind      { return ToolCodeInterpreter }
func (c *CodeInterpreterCall) ApprovalKey() string { return string(ToolCodeInterpreter) }
func (c *CodeInterpreterCall) sealedToolCall()     {}

// FileSearchResult is one ranked snippet returned by the file search tool.
type FileSearchResult struct {
	FileID  string  `json:"file_id" bson:"file_id"`
	Content string  `json:"content" bson:"content"`
	Score   float64 `json:"score" bson:"score"`
}

// FileSearchCall searches the attached vector stores.
type FileSearchCall struct {
	ID    string
	Input string // query

	Results []FileSearchResult
}

func (c *FileSearchCall) CallID() string      { return c.ID }
func (c *FileSearchCall) Kind() ToolKind      { return ToolFileSearch }
func (c *FileSearchCall) ApprovalKey() string { return string(ToolFileSearch) }
func (c *FileSearchCall) sealedToolCall()     {}

// FunctionCall invokes a client-executed function. Its output is always
// supplied by the client through the output gate.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments string // canonical JSON

	Output string
}

func (c *FunctionCall) CallID() string      { return c.ID }
func (c *FunctionCall) Kind() ToolKind      { return ToolFunction }
func (c *FunctionCall) ApprovalKey() string { return string(ToolFunction) }
func (c *FunctionCall) sealedToolCall()     {}

// SystemCall invokes a built-in system tool identified by ToolID.
type SystemCall struct {
	ID     string
	ToolID string
	Input  string

	Output string
}

func (c *SystemCall) CallID() string      { return c.ID }
func (c *SystemCall) Kind() ToolKind      { return ToolSystem }
func (c *SystemCall) ApprovalKey() string { return c.ToolID }
func (c *SystemCall) sealedToolCall()     {}

// UserCall invokes a user-registered tool identified by ToolRef.
type UserCall struct {
	ID        string
	ToolRef   string
	Arguments string

	Output string
}

func (c *UserCall) CallID() string      { return c.ID }
func (c *UserCall) Kind() ToolKind      { return ToolUser }
func (c *UserCall) ApprovalKey() string { return c.ToolRef }
func (c *UserCall) sealedToolCall()     {}

// UsageFor resolves the engine-facing tool name against the run's declared
// usages. The second return is false when the name matches no usage.
func (r *Run) UsageFor(name string) (ToolUsage, bool) {
	for _, u := range r.Tools {
		if u.CallName() == name {
			return u, true
		}
	}
	return ToolUsage{}, false
}

// NewToolCall classifies a tool start into the matching call variant,
// extracting the kind-specific input from the raw arguments.
func NewToolCall(usage ToolUsage, args json.RawMessage) (ToolCall, error) {
	id := NewID("call")
	switch usage.Kind {
	case ToolCodeInterpreter:
		return &CodeInterpreterCall{ID: id, Input: stringField(args, "code")}, nil
	case ToolFileSearch:
		return &FileSearchCall{ID: id, Input: stringField(args, "query")}, nil
	case ToolFunction:
		return &FunctionCall{ID: id, Name: usage.Name, Arguments: string(args)}, nil
	case ToolSystem:
		return &SystemCall{ID: id, ToolID: usage.ToolID, Input: string(args)}, nil
	case ToolUser:
		return &UserCall{ID: id, ToolRef: usage.ToolRef, Arguments: string(args)}, nil
	default:
		return nil, fmt.Errorf("unexpected tool kind %q", usage.Kind)
	}
}

// stringField extracts a string field from a JSON object, falling back to the
// raw document when it is not an object or the field is absent.
func stringField(raw json.RawMessage, field string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		if v, ok := obj[field]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				return s
			}
		}
	}
	return string(raw)
}
