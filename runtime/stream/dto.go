package stream

import (
	"time"

	"github.com/threadrun/threadrun/runtime/run"
)

// RunDTO is the wire shape of a run.
type RunDTO struct {
	ID             string             `json:"id"`
	Object         string             `json:"object"`
	ThreadID       string             `json:"thread_id"`
	AssistantID    string             `json:"assistant_id"`
	Status         string             `json:"status"`
	RequiredAction *RequiredActionDTO `json:"required_action,omitempty"`
	LastError      *ErrorDTO          `json:"last_error,omitempty"`
	Model          string             `json:"model,omitempty"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
	CreatedAt      int64              `json:"created_at"`
	ExpiresAt      int64              `json:"expires_at,omitempty"`
	StartedAt      int64              `json:"started_at,omitempty"`
	CancelledAt    int64              `json:"cancelled_at,omitempty"`
	FailedAt       int64              `json:"failed_at,omitempty"`
	CompletedAt    int64              `json:"completed_at,omitempty"`
}

// ErrorDTO is the wire shape of a structured error.
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RequiredActionDTO is the wire shape of a pending action.
type RequiredActionDTO struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	ToolCalls   []ToolCallDTO `json:"tool_calls"`
	InputFields []string      `json:"input_fields,omitempty"`
}

// ToolCallDTO is the wire shape of a tool call. Exactly one of the
// kind-specific payloads is set, matching Type.
type ToolCallDTO struct {
	ID              string              `json:"id"`
	Type            string              `json:"type"`
	CodeInterpreter *CodeInterpreterDTO `json:"code_interpreter,omitempty"`
	FileSearch      *FileSearchDTO      `json:"file_search,omitempty"`
	Function        *FunctionDTO        `json:"function,omitempty"`
	System          *SystemDTO          `json:"system,omitempty"`
	User            *UserDTO            `json:"user,omitempty"`
}

// CodeInterpreterDTO carries code interpreter input and output.
type CodeInterpreterDTO struct {
	Input         string   `json:"input"`
	Logs          []string `json:"logs,omitempty"`
	OutputFileIDs []string `json:"output_file_ids,omitempty"`
}

// FileSearchDTO carries the query and ranked results.
type FileSearchDTO struct {
	Input   string                `json:"input"`
	Results []FileSearchResultDTO `json:"results,omitempty"`
}

// FileSearchResultDTO is one ranked match.
type FileSearchResultDTO struct {
	FileID  string  `json:"file_id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// FunctionDTO carries a client-executed function call.
type FunctionDTO struct {
	Name      string  `json:"name"`
	Arguments string  `json:"arguments"`
	Output    *string `json:"output,omitempty"`
}

// SystemDTO carries a built-in system tool call.
type SystemDTO struct {
	ToolID string  `json:"tool_id"`
	Input  string  `json:"input"`
	Output *string `json:"output,omitempty"`
}

// UserDTO carries a user-registered tool call.
type UserDTO struct {
	ToolRef   string  `json:"tool"`
	Arguments string  `json:"arguments"`
	Output    *string `json:"output,omitempty"`
}

// StepDTO is the wire shape of a run step.
type StepDTO struct {
	ID          string          `json:"id"`
	Object      string          `json:"object"`
	RunID       string          `json:"run_id"`
	ThreadID    string          `json:"thread_id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	StepDetails *StepDetailsDTO `json:"step_details,omitempty"`
	LastError   *ErrorDTO       `json:"last_error,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	CompletedAt int64           `json:"completed_at,omitempty"`
}

// StepDetailsDTO is the wire shape of the step detail union.
type StepDetailsDTO struct {
	Type            string        `json:"type"`
	MessageCreation *MessageRefDTO `json:"message_creation,omitempty"`
	ToolCalls       []ToolCallDTO `json:"tool_calls,omitempty"`
	Thought         *ThoughtDTO   `json:"thought,omitempty"`
}

// MessageRefDTO references the message a step produced.
type MessageRefDTO struct {
	MessageID string `json:"message_id"`
}

// ThoughtDTO carries step reasoning text.
type ThoughtDTO struct {
	Content string `json:"content"`
}

// StepDeltaDTO is the wire shape of a step delta event.
type StepDeltaDTO struct {
	ID     string             `json:"id"`
	Object string             `json:"object"`
	Delta  StepDeltaInnerDTO  `json:"delta"`
}

// StepDeltaInnerDTO carries the changed step details.
type StepDeltaInnerDTO struct {
	StepDetails StepDetailsDTO `json:"step_details"`
}

// MessageDTO is the wire shape of a message.
type MessageDTO struct {
	ID          string            `json:"id"`
	Object      string            `json:"object"`
	ThreadID    string            `json:"thread_id"`
	RunID       string            `json:"run_id,omitempty"`
	Role        string            `json:"role"`
	Status      string            `json:"status"`
	Content     []ContentPartDTO  `json:"content"`
	CreatedAt   int64             `json:"created_at"`
	CompletedAt int64             `json:"completed_at,omitempty"`
}

// ContentPartDTO is one message content part.
type ContentPartDTO struct {
	Type string  `json:"type"`
	Text TextDTO `json:"text"`
}

// TextDTO wraps text content.
type TextDTO struct {
	Value string `json:"value"`
}

// MessageDeltaDTO is the wire shape of a message delta event.
type MessageDeltaDTO struct {
	ID     string               `json:"id"`
	Object string               `json:"object"`
	Delta  MessageDeltaInnerDTO `json:"delta"`
}

// MessageDeltaInnerDTO carries the appended content parts.
type MessageDeltaInnerDTO struct {
	Content []IndexedContentDTO `json:"content"`
}

// IndexedContentDTO is one appended content part with its index.
type IndexedContentDTO struct {
	Index int     `json:"index"`
	Type  string  `json:"type"`
	Text  TextDTO `json:"text"`
}

// ToRunDTO maps a run record to its wire shape.
func ToRunDTO(r *run.Run) RunDTO {
	dto := RunDTO{
		ID:          r.ID,
		Object:      "thread.run",
		ThreadID:    r.ThreadID,
		AssistantID: r.AssistantID,
		Status:      string(r.Status),
		Model:       r.Model,
		Metadata:    r.Metadata,
		CreatedAt:   unix(r.CreatedAt),
		ExpiresAt:   unix(r.ExpiresAt),
		StartedAt:   unix(r.StartedAt),
		CancelledAt: unix(r.CancelledAt),
		FailedAt:    unix(r.FailedAt),
		CompletedAt: unix(r.CompletedAt),
	}
	if r.RequiredAction != nil {
		ra := ToRequiredActionDTO(r.RequiredAction)
		dto.RequiredAction = &ra
	}
	if r.LastError != nil {
		dto.LastError = &ErrorDTO{Code: r.LastError.Code, Message: r.LastError.Message}
	}
	return dto
}

// ToRequiredActionDTO maps a pending action to its wire shape.
func ToRequiredActionDTO(a *run.RequiredAction) RequiredActionDTO {
	calls := make([]ToolCallDTO, len(a.ToolCalls))
	for i, tc := range a.ToolCalls {
		calls[i] = ToToolCallDTO(tc)
	}
	return RequiredActionDTO{
		ID:          a.ID,
		Type:        string(a.Type),
		ToolCalls:   calls,
		InputFields: a.InputFields,
	}
}

// ToToolCallDTO maps a tool call variant to its wire shape.
func ToToolCallDTO(tc run.ToolCall) ToolCallDTO {
	dto := ToolCallDTO{ID: tc.CallID(), Type: string(tc.Kind())}
	switch c := tc.(type) {
	case *run.CodeInterpreterCall:
		dto.CodeInterpreter = &CodeInterpreterDTO{
			Input:         c.Input,
			Logs:          c.Logs,
			OutputFileIDs: c.OutputFileIDs,
		}
	case *run.FileSearchCall:
		fs := &FileSearchDTO{Input: c.Input}
		for _, res := range c.Results {
			fs.Results = append(fs.Results, FileSearchResultDTO(res))
		}
		dto.FileSearch = fs
	case *run.FunctionCall:
		dto.Function = &FunctionDTO{Name: c.Name, Arguments: c.Arguments, Output: optional(c.Output)}
	case *run.SystemCall:
		dto.System = &SystemDTO{ToolID: c.ToolID, Input: c.Input, Output: optional(c.Output)}
	case *run.UserCall:
		dto.User = &UserDTO{ToolRef: c.ToolRef, Arguments: c.Arguments, Output: optional(c.Output)}
	}
	return dto
}

// ToStepDTO maps a step record to its wire shape.
func ToStepDTO(s *run.Step) StepDTO {
	dto := StepDTO{
		ID:          s.ID,
		Object:      "thread.run.step",
		RunID:       s.RunID,
		ThreadID:    s.ThreadID,
		Type:        string(s.Details.StepKind()),
		Status:      string(s.Status),
		CreatedAt:   unix(s.CreatedAt),
		CompletedAt: unix(s.CompletedAt),
	}
	details := toStepDetailsDTO(s.Details)
	dto.StepDetails = &details
	if s.LastError != nil {
		dto.LastError = &ErrorDTO{Code: s.LastError.Code, Message: s.LastError.Message}
	}
	return dto
}

func toStepDetailsDTO(d run.StepDetails) StepDetailsDTO {
	dto := StepDetailsDTO{Type: string(d.StepKind())}
	switch det := d.(type) {
	case run.MessageCreationDetails:
		dto.MessageCreation = &MessageRefDTO{MessageID: det.MessageID}
	case run.ToolCallsDetails:
		for _, tc := range det.ToolCalls {
			dto.ToolCalls = append(dto.ToolCalls, ToToolCallDTO(tc))
		}
	case run.ThoughtDetails:
		dto.Thought = &ThoughtDTO{Content: det.Text}
	}
	return dto
}

// ToStepDeltaDTO maps appended thought text to a step delta event payload.
func ToStepDeltaDTO(s *run.Step, text string) StepDeltaDTO {
	return StepDeltaDTO{
		ID:     s.ID,
		Object: "thread.run.step.delta",
		Delta: StepDeltaInnerDTO{
			StepDetails: StepDetailsDTO{
				Type:    string(run.StepThought),
				Thought: &ThoughtDTO{Content: text},
			},
		},
	}
}

// ToMessageDTO maps a message record to its wire shape.
func ToMessageDTO(m *run.Message) MessageDTO {
	return MessageDTO{
		ID:          m.ID,
		Object:      "thread.message",
		ThreadID:    m.ThreadID,
		RunID:       m.RunID,
		Role:        string(m.Role),
		Status:      string(m.Status),
		Content:     []ContentPartDTO{{Type: "text", Text: TextDTO{Value: m.Content}}},
		CreatedAt:   unix(m.CreatedAt),
		CompletedAt: unix(m.CompletedAt),
	}
}

// ToMessageDeltaDTO maps appended message text to a delta event payload.
func ToMessageDeltaDTO(m *run.Message, text string) MessageDeltaDTO {
	return MessageDeltaDTO{
		ID:     m.ID,
		Object: "thread.message.delta",
		Delta: MessageDeltaInnerDTO{
			Content: []IndexedContentDTO{{Index: 0, Type: "text", Text: TextDTO{Value: text}}},
		},
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
