package chat

import "time"

// Session captures one live conversation owned by an allow-listed identity.
// Owner, Model and Config are fixed at creation; Conversation grows by one
// exchange per successful send.
type Session struct {
	ID           string           `json:"id"`
	Owner        string           `json:"owner"`
	Model        string           `json:"model"`
	Config       GenerationConfig `json:"generationConfig"`
	Conversation Conversation     `json:"conversation"`
	CreatedAt    time.Time        `json:"createdAt"`
	LastActiveAt time.Time        `json:"lastActiveAt"`
}
