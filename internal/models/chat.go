package models

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles the completion service accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ChatMessage is one turn of a conversation. Order within a conversation is causal order.
type ChatMessage struct {
	Role      Role   `json:"role" bson:"role"`
	Content   string `json:"content" bson:"content"`
	Timestamp string `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
}

// Reply is the assistant turn returned to the client.
type Reply struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
