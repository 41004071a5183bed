package mongo

import (
	"encoding/json"
	"time"

	"github.com/threadrun/threadrun/runtime/run"
)

type (
	runDocument struct {
		ID             string                  `bson:"_id"`
		ThreadID       string                  `bson:"thread_id"`
		AssistantID    string                  `bson:"assistant_id"`
		CreatedBy      string                  `bson:"created_by"`
		Status         string                  `bson:"status"`
		Tools          []toolUsageDocument     `bson:"tools,omitempty"`
		ToolApprovals  map[string]string       `bson:"tool_approvals,omitempty"`
		RequiredAction *requiredActionDocument `bson:"required_action,omitempty"`
		LastError      *run.RunError           `bson:"last_error,omitempty"`
		Instructions   string                  `bson:"instructions,omitempty"`
		Model          string                  `bson:"model,omitempty"`
		Metadata       map[string]string       `bson:"metadata,omitempty"`
		CreatedAt      time.Time               `bson:"created_at"`
		ExpiresAt      time.Time               `bson:"expires_at,omitempty"`
		StartedAt      time.Time               `bson:"started_at,omitempty"`
		CancelledAt    time.Time               `bson:"cancelled_at,omitempty"`
		FailedAt       time.Time               `bson:"failed_at,omitempty"`
		CompletedAt    time.Time               `bson:"completed_at,omitempty"`
	}

	toolUsageDocument struct {
		Kind           string   `bson:"kind"`
		Name           string   `bson:"name,omitempty"`
		Parameters     string   `bson:"parameters,omitempty"`
		ToolID         string   `bson:"tool_id,omitempty"`
		ToolRef        string   `bson:"tool_ref,omitempty"`
		MaxNumResults  int      `bson:"max_num_results,omitempty"`
		RequiredInputs []string `bson:"required_inputs,omitempty"`
	}

	requiredActionDocument struct {
		ID          string             `bson:"id"`
		Type        string             `bson:"type"`
		ToolCalls   []toolCallDocument `bson:"tool_calls"`
		InputFields []string           `bson:"input_fields,omitempty"`
	}

	toolCallDocument struct {
		ID            string                 `bson:"id"`
		Kind          string                 `bson:"kind"`
		Input         string                 `bson:"input,omitempty"`
		Name          string                 `bson:"name,omitempty"`
		Arguments     string                 `bson:"arguments,omitempty"`
		ToolID        string                 `bson:"tool_id,omitempty"`
		ToolRef       string                 `bson:"tool_ref,omitempty"`
		Output        string                 `bson:"output,omitempty"`
		Logs          []string               `bson:"logs,omitempty"`
		OutputFileIDs []string               `bson:"output_file_ids,omitempty"`
		Results       []run.FileSearchResult `bson:"results,omitempty"`
	}

	stepDocument struct {
		ID          string              `bson:"_id"`
		RunID       string              `bson:"run_id"`
		ThreadID    string              `bson:"thread_id"`
		Status      string              `bson:"status"`
		Kind        string              `bson:"kind"`
		MessageID   string              `bson:"message_id,omitempty"`
		ToolCalls   []toolCallDocument  `bson:"tool_calls,omitempty"`
		Thought     string              `bson:"thought,omitempty"`
		LastError   *run.RunError       `bson:"last_error,omitempty"`
		Event       map[string]string   `bson:"event,omitempty"`
		CreatedAt   time.Time           `bson:"created_at"`
		CompletedAt time.Time           `bson:"completed_at,omitempty"`
	}

	messageDocument struct {
		ID          string    `bson:"_id"`
		ThreadID    string    `bson:"thread_id"`
		RunID       string    `bson:"run_id,omitempty"`
		Role        string    `bson:"role"`
		Content     string    `bson:"content"`
		Status      string    `bson:"status"`
		CreatedAt   time.Time `bson:"created_at"`
		CompletedAt time.Time `bson:"completed_at,omitempty"`
	}
)

func newRunDocument(r *run.Run) runDocument {
	doc := runDocument{
		ID:           r.ID,
		ThreadID:     r.ThreadID,
		AssistantID:  r.AssistantID,
		CreatedBy:    r.CreatedBy,
		Status:       string(r.Status),
		LastError:    r.LastError,
		Instructions: r.Instructions,
		Model:        r.Model,
		Metadata:     r.Metadata,
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
		StartedAt:    r.StartedAt,
		CancelledAt:  r.CancelledAt,
		FailedAt:     r.FailedAt,
		CompletedAt:  r.CompletedAt,
	}
	for _, u := range r.Tools {
		doc.Tools = append(doc.Tools, toolUsageDocument{
			Kind:           string(u.Kind),
			Name:           u.Name,
			Parameters:     string(u.Parameters),
			ToolID:         u.ToolID,
			ToolRef:        u.ToolRef,
			MaxNumResults:  u.MaxNumResults,
			RequiredInputs: u.RequiredInputs,
		})
	}
	if len(r.ToolApprovals) > 0 {
		doc.ToolApprovals = make(map[string]string, len(r.ToolApprovals))
		for k, v := range r.ToolApprovals {
			doc.ToolApprovals[k] = string(v)
		}
	}
	if r.RequiredAction != nil {
		ra := newRequiredActionDocument(r.RequiredAction)
		doc.RequiredAction = &ra
	}
	return doc
}

func (doc runDocument) toRun() *run.Run {
	r := &run.Run{
		ID:           doc.ID,
		ThreadID:     doc.ThreadID,
		AssistantID:  doc.AssistantID,
		CreatedBy:    doc.CreatedBy,
		Status:       run.Status(doc.Status),
		LastError:    doc.LastError,
		Instructions: doc.Instructions,
		Model:        doc.Model,
		Metadata:     doc.Metadata,
		CreatedAt:    doc.CreatedAt,
		ExpiresAt:    doc.ExpiresAt,
		StartedAt:    doc.StartedAt,
		CancelledAt:  doc.CancelledAt,
		FailedAt:     doc.FailedAt,
		CompletedAt:  doc.CompletedAt,
	}
	for _, u := range doc.Tools {
		usage := run.ToolUsage{
			Kind:           run.ToolKind(u.Kind),
			Name:           u.Name,
			ToolID:         u.ToolID,
			ToolRef:        u.ToolRef,
			MaxNumResults:  u.MaxNumResults,
			RequiredInputs: u.RequiredInputs,
		}
		if u.Parameters != "" {
			usage.Parameters = json.RawMessage(u.Parameters)
		}
		r.Tools = append(r.Tools, usage)
	}
	if len(doc.ToolApprovals) > 0 {
		r.ToolApprovals = make(map[string]run.Policy, len(doc.ToolApprovals))
		for k, v := range doc.ToolApprovals {
			r.ToolApprovals[k] = run.Policy(v)
		}
	}
	if doc.RequiredAction != nil {
		r.RequiredAction = doc.RequiredAction.toRequiredAction()
	}
	return r
}

func newRequiredActionDocument(a *run.RequiredAction) requiredActionDocument {
	doc := requiredActionDocument{
		ID:          a.ID,
		Type:        string(a.Type),
		InputFields: a.InputFields,
	}
	for _, tc := range a.ToolCalls {
		doc.ToolCalls = append(doc.ToolCalls, newToolCallDocument(tc))
	}
	return doc
}

func (doc *requiredActionDocument) toRequiredAction() *run.RequiredAction {
	a := &run.RequiredAction{
		ID:          doc.ID,
		Type:        run.ActionType(doc.Type),
		InputFields: doc.InputFields,
	}
	for _, tc := range doc.ToolCalls {
		a.ToolCalls = append(a.ToolCalls, tc.toToolCall())
	}
	return a
}

func newToolCallDocument(tc run.ToolCall) toolCallDocument {
	doc := toolCallDocument{ID: tc.CallID(), Kind: string(tc.Kind())}
	switch c := tc.(type) {
	case *run.CodeInterpreterCall:
		doc.Input = c.Input
		doc.Logs = c.Logs
		doc.OutputFileIDs = c.OutputFileIDs
	case *run.FileSearchCall:
		doc.Input = c.Input
		doc.Results = c.Results
	case *run.FunctionCall:
		doc.Name = c.Name
		doc.Arguments = c.Arguments
		doc.Output = c.Output
	case *run.SystemCall:
		doc.ToolID = c.ToolID
		doc.Input = c.Input
		doc.Output = c.Output
	case *run.UserCall:
		doc.ToolRef = c.ToolRef
		doc.Arguments = c.Arguments
		doc.Output = c.Output
	}
	return doc
}

func (doc toolCallDocument) toToolCall() run.ToolCall {
	switch run.ToolKind(doc.Kind) {
	case run.ToolCodeInterpreter:
		return &run.CodeInterpreterCall{
			ID:            doc.ID,
			Input:         doc.Input,
			Logs:          doc.Logs,
			OutputFileIDs: doc.OutputFileIDs,
		}
	case run.ToolFileSearch:
		return &run.FileSearchCall{ID: doc.ID, Input: doc.Input, Results: doc.Results}
	case run.ToolFunction:
		return &run.FunctionCall{ID: doc.ID, Name: doc.Name, Arguments: doc.Arguments, Output: doc.Output}
	case run.ToolSystem:
		return &run.SystemCall{ID: doc.ID, ToolID: doc.ToolID, Input: doc.Input, Output: doc.Output}
	default:
		return &run.UserCall{ID: doc.ID, ToolRef: doc.ToolRef, Arguments: doc.Arguments, Output: doc.Output}
	}
}

func newStepDocument(s *run.Step) stepDocument {
	doc := stepDocument{
		ID:          s.ID,
		RunID:       s.RunID,
		ThreadID:    s.ThreadID,
		Status:      string(s.Status),
		Kind:        string(s.Details.StepKind()),
		LastError:   s.LastError,
		Event:       s.Event,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
	switch det := s.Details.(type) {
	case run.MessageCreationDetails:
		doc.MessageID = det.MessageID
	case run.ToolCallsDetails:
		for _, tc := range det.ToolCalls {
			doc.ToolCalls = append(doc.ToolCalls, newToolCallDocument(tc))
		}
	case run.ThoughtDetails:
		doc.Thought = det.Text
	}
	return doc
}

func newMessageDocument(m *run.Message) messageDocument {
	return messageDocument{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		RunID:       m.RunID,
		Role:        string(m.Role),
		Content:     m.Content,
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
}
