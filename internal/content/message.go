package content

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleDeveloper, RoleTool:
		return true
	}
	return false
}

// Message is an ordered collection of content units from one author.
//
// A tool-role message carries exactly the result(s) of one tool
// invocation and must set ToolUseID. An assistant-role message
// accumulates the text and tool-use units produced by one model turn.
// Messages are never mutated after persistence, only appended to a
// thread.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   Units  `json:"content"`
}

// NewUserMessage builds a user message from the given units.
func NewUserMessage(units ...Unit) *Message {
	return &Message{ID: NewID(), Role: RoleUser, Content: units}
}

// NewAssistantMessage builds an empty assistant message to be filled
// as a model turn streams.
func NewAssistantMessage() *Message {
	return &Message{ID: NewID(), Role: RoleAssistant}
}

// NewToolMessage builds a tool-role message carrying a single tool
// result. The message's ToolUseID mirrors the result's.
func NewToolMessage(result *ToolResult) *Message {
	return &Message{
		ID:        NewID(),
		Role:      RoleTool,
		ToolUseID: result.ToolUseID,
		Content:   Units{result},
	}
}

// Append adds units to the message content.
func (m *Message) Append(units ...Unit) {
	m.Content = append(m.Content, units...)
}

// TextContent concatenates all finalized text units in the message.
func (m *Message) TextContent() string {
	var out string
	for _, u := range m.Content {
		if t, ok := u.(*Text); ok {
			out += t.Text
		}
	}
	return out
}

// ToolUses returns the tool-use units in the message, in order.
func (m *Message) ToolUses() []*ToolUse {
	var uses []*ToolUse
	for _, u := range m.Content {
		if tu, ok := u.(*ToolUse); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}
