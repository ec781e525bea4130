package db

import (
	"encoding/json"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/wuwenbin0122/promptrelay/internal/models"
)

func TestAuditDocumentLayout(t *testing.T) {
	ts := time.Date(2026, time.October, 14, 8, 30, 0, 0, time.UTC)
	doc, err := auditDocument(&models.AuditRecord{
		ID:        "rec-1",
		Prompt:    models.Prompt{Model: "gpt-4o", Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}},
		Response:  json.RawMessage(`{"message":{"role":"assistant","content":"hello"}}`),
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("auditDocument returned error: %v", err)
	}

	keys := make([]string, 0, len(doc))
	for _, e := range doc {
		keys = append(keys, e.Key)
	}
	assertKeys(t, keys, []string{"_id", "prompt", "response", "timestamp"})

	stored := marshalDocument(t, doc)
	if content := stored.Lookup("response", "message", "content").StringValue(); content != "hello" {
		t.Fatalf("expected response content hello, got %q", content)
	}
	if doc[3].Value != ts {
		t.Fatalf("expected timestamp %v, got %v", ts, doc[3].Value)
	}
}

func TestAuditDocumentPreservesResponse(t *testing.T) {
	record := &models.AuditRecord{
		ID:       "rec-2",
		Prompt:   models.Prompt{Model: "gpt-4o"},
		Response: json.RawMessage(`{"z":1,"y":2,"x":3,"w":9007199254740993,"message":{"role":"assistant","content":"hi"}}`),
	}

	want := []string{"z", "y", "x", "w", "message"}
	for i := 0; i < 5; i++ {
		doc, err := auditDocument(record)
		if err != nil {
			t.Fatalf("auditDocument returned error: %v", err)
		}
		stored := marshalDocument(t, doc)

		elements, err := stored.Lookup("response").Document().Elements()
		if err != nil {
			t.Fatalf("failed to read response elements: %v", err)
		}
		keys := make([]string, 0, len(elements))
		for _, e := range elements {
			keys = append(keys, e.Key())
		}
		assertKeys(t, keys, want)

		big, ok := stored.Lookup("response", "w").Int64OK()
		if !ok || big != 9007199254740993 {
			t.Fatalf("expected exact integer 9007199254740993, got %v", stored.Lookup("response", "w"))
		}
		if small, ok := stored.Lookup("response", "z").Int32OK(); !ok || small != 1 {
			t.Fatalf("expected int32 1, got %v", stored.Lookup("response", "z"))
		}
	}
}

func TestAuditDocumentNonObjectResponse(t *testing.T) {
	doc, err := auditDocument(&models.AuditRecord{Response: json.RawMessage(`"plain text reply"`)})
	if err != nil {
		t.Fatalf("auditDocument returned error: %v", err)
	}
	if got := marshalDocument(t, doc).Lookup("response").StringValue(); got != "plain text reply" {
		t.Fatalf("expected string response, got %q", got)
	}

	doc, err = auditDocument(&models.AuditRecord{})
	if err != nil {
		t.Fatalf("auditDocument returned error: %v", err)
	}
	if got := marshalDocument(t, doc).Lookup("response").Type; got != bson.TypeNull {
		t.Fatalf("expected null response, got %v", got)
	}
}

func marshalDocument(t *testing.T, doc bson.D) bson.Raw {
	t.Helper()
	data, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal document: %v", err)
	}
	return bson.Raw(data)
}

func assertKeys(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected keys %v, got %v", want, got)
		}
	}
}
