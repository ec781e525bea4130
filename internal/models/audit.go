package models

import (
	"encoding/json"
	"time"
)

// Prompt is the request body forwarded to the completion service.
type Prompt struct {
	Model    string        `json:"model" bson:"model"`
	Messages []ChatMessage `json:"messages" bson:"messages"`
}

// AuditRecord is one persisted prompt/response exchange. Records are write-once.
type AuditRecord struct {
	ID        string
	RequestID string
	Subject   string
	Prompt    Prompt
	Response  json.RawMessage
	Timestamp time.Time
}
