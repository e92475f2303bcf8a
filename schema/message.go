package schema

import "strings"

// Role identifies who produced a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
)

// Message is the common interface implemented by all message types carried
// in a conversation: SystemMessage, HumanMessage, AIMessage, ToolMessage.
type Message interface {
	GetRole() Role
	GetContent() []ContentPart
	GetMetadata() map[string]any
	// Text concatenates the text of every TextPart, joined by newlines.
	Text() string
}

func textOf(parts []ContentPart) string {
	var b strings.Builder
	first := true
	for _, p := range parts {
		if tp, ok := p.(TextPart); ok {
			if !first {
				b.WriteByte('\n')
			}
			b.WriteString(tp.Text)
			first = false
		}
	}
	return b.String()
}

// SystemMessage carries instructions that ground the model's behavior.
type SystemMessage struct {
	Parts    []ContentPart
	Metadata map[string]any
}

func NewSystemMessage(text string) *SystemMessage {
	return &SystemMessage{Parts: []ContentPart{TextPart{Text: text}}}
}

func (m *SystemMessage) GetRole() Role                { return RoleSystem }
func (m *SystemMessage) GetContent() []ContentPart     { return m.Parts }
func (m *SystemMessage) GetMetadata() map[string]any   { return m.Metadata }
func (m *SystemMessage) Text() string                  { return textOf(m.Parts) }

// HumanMessage carries a user's turn.
type HumanMessage struct {
	Parts    []ContentPart
	Metadata map[string]any
}

func NewHumanMessage(text string) *HumanMessage {
	return &HumanMessage{Parts: []ContentPart{TextPart{Text: text}}}
}

func (m *HumanMessage) GetRole() Role              { return RoleHuman }
func (m *HumanMessage) GetContent() []ContentPart   { return m.Parts }
func (m *HumanMessage) GetMetadata() map[string]any { return m.Metadata }
func (m *HumanMessage) Text() string                { return textOf(m.Parts) }

// AIMessage carries a model's reply, optionally with tool calls and usage.
type AIMessage struct {
	Parts     []ContentPart
	ToolCalls []ToolCall
	Usage     Usage
	ModelID   string
	Metadata  map[string]any
}

func NewAIMessage(text string) *AIMessage {
	return &AIMessage{Parts: []ContentPart{TextPart{Text: text}}}
}

func (m *AIMessage) GetRole() Role              { return RoleAI }
func (m *AIMessage) GetContent() []ContentPart   { return m.Parts }
func (m *AIMessage) GetMetadata() map[string]any { return m.Metadata }
func (m *AIMessage) Text() string                { return textOf(m.Parts) }

// ToolMessage carries the result of a tool invocation back to the model.
type ToolMessage struct {
	ToolCallID string
	Parts      []ContentPart
	Metadata   map[string]any
}

func NewToolMessage(toolCallID, result string) *ToolMessage {
	return &ToolMessage{ToolCallID: toolCallID, Parts: []ContentPart{TextPart{Text: result}}}
}

func (m *ToolMessage) GetRole() Role              { return RoleTool }
func (m *ToolMessage) GetContent() []ContentPart   { return m.Parts }
func (m *ToolMessage) GetMetadata() map[string]any { return m.Metadata }
func (m *ToolMessage) Text() string                { return textOf(m.Parts) }

// Usage reports token accounting for a model response.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CachedTokens int
}
