package chat

// Role constants for conversation turns.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is a single message in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the ordered history exchanged with the model.
type Conversation []Turn

// Clone returns an independent copy so callers can extend it without
// touching the stored history.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// Append returns a new conversation with the user message and model reply added.
func (c Conversation) Append(userMessage, reply string) Conversation {
	out := make(Conversation, len(c), len(c)+2)
	copy(out, c)
	return append(out,
		Turn{Role: RoleUser, Content: userMessage},
		Turn{Role: RoleModel, Content: reply},
	)
}
