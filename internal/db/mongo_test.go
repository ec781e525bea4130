package db_test

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wuwenbin0122/promptrelay/internal/db"
	"github.com/wuwenbin0122/promptrelay/internal/models"
	"github.com/wuwenbin0122/promptrelay/internal/utils"
)

func sampleRecord() *models.AuditRecord {
	return &models.AuditRecord{
		ID:        uuid.NewString(),
		RequestID: uuid.NewString(),
		Prompt: models.Prompt{
			Model: "gpt-4o",
			Messages: []models.ChatMessage{
				{Role: models.RoleSystem, Content: "You are a helpful assistant."},
				{Role: models.RoleUser, Content: "hi"},
			},
		},
		Response:  json.RawMessage(`{"message":{"role":"assistant","content":"hello"}}`),
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestMongoUnreachableReportsErrorAndRetries(t *testing.T) {
	store, err := db.NewMongo(utils.MongoConfig{
		URI:            "mongodb://127.0.0.1:1",
		Database:       "audit",
		Collection:     "prompts",
		ConnectTimeout: 200 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("failed to build mongo store: %v", err)
	}
	defer store.Close(context.Background())

	for attempt := 1; attempt <= 2; attempt++ {
		if err := store.Append(context.Background(), sampleRecord()); err == nil {
			t.Fatalf("attempt %d: expected append to fail against unreachable server", attempt)
		}
	}
}

func TestNewMongoRequiresURI(t *testing.T) {
	if _, err := db.NewMongo(utils.MongoConfig{Database: "audit", Collection: "prompts"}, nil); err == nil {
		t.Fatalf("expected error for missing uri")
	}
}

func TestMongoAppendIntegration(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set; skipping mongo integration test")
	}

	database := "prompt_relay_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	store, err := db.NewMongo(utils.MongoConfig{
		URI:            uri,
		Database:       database,
		Collection:     "prompts",
		ConnectTimeout: 5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("failed to build mongo store: %v", err)
	}
	defer store.Close(context.Background())

	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("failed to connect verification client: %v", err)
	}
	defer func() {
		client.Database(database).Drop(ctx)
		client.Disconnect(ctx)
	}()

	first := sampleRecord()
	replay := sampleRecord()
	replay.Prompt = first.Prompt
	replay.Response = first.Response

	for _, record := range []*models.AuditRecord{first, replay} {
		if err := store.Append(ctx, record); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	collection := client.Database(database).Collection("prompts")
	count, err := collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		t.Fatalf("failed to count documents: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 documents for replayed prompt, got %d", count)
	}

	var doc bson.M
	if err := collection.FindOne(ctx, bson.M{"_id": first.ID}).Decode(&doc); err != nil {
		t.Fatalf("failed to fetch record: %v", err)
	}
	response, ok := doc["response"].(bson.M)
	if !ok {
		t.Fatalf("expected response sub-document, got %T", doc["response"])
	}
	message, ok := response["message"].(bson.M)
	if !ok || message["content"] != "hello" {
		t.Fatalf("expected stored response content 'hello', got %v", response)
	}
}
