package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/promptrelay/internal/models"
	"github.com/wuwenbin0122/promptrelay/internal/utils"
)

type mongoConn struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Mongo appends audit records to a single collection. The client is created
// on the first Append, not at construction.
type Mongo struct {
	cfg    utils.MongoConfig
	conn   *handle[*mongoConn]
	logger *zap.SugaredLogger
}

func NewMongo(cfg utils.MongoConfig, logger *zap.SugaredLogger) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo: uri is required")
	}
	if cfg.Database == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("mongo: database and collection are required")
	}
	if logger == nil {
		logger = utils.Logger().Sugar()
	}

	m := &Mongo{cfg: cfg, logger: logger.Named("mongo")}
	m.conn = newHandle(m.connect, func(ctx context.Context, c *mongoConn) error {
		return c.client.Disconnect(ctx)
	})
	return m, nil
}

func (m *Mongo) connect(ctx context.Context) (*mongoConn, error) {
	timeout := timeoutOrDefault(m.cfg.ConnectTimeout)

	clientOpts := options.Client().
		ApplyURI(m.cfg.URI).
		SetServerSelectionTimeout(timeout).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1).SetStrict(true).SetDeprecationErrors(true))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	collection := client.Database(m.cfg.Database).Collection(m.cfg.Collection)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	})
	if err != nil {
		m.logger.Warnw("ensure timestamp index failed", "collection", m.cfg.Collection, "error", err)
	}

	m.logger.Infow("connected", "database", m.cfg.Database, "collection", m.cfg.Collection)

	return &mongoConn{client: client, collection: collection}, nil
}

// Append inserts one document. Identical records are stored independently.
func (m *Mongo) Append(ctx context.Context, record *models.AuditRecord) error {
	conn, err := m.conn.get(ctx)
	if err != nil {
		return err
	}

	doc, err := auditDocument(record)
	if err != nil {
		return err
	}

	if _, err := conn.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongo: insert audit record: %w", err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return m.conn.close(ctx)
}

func auditDocument(record *models.AuditRecord) (bson.D, error) {
	response, err := responseValue(record.Response)
	if err != nil {
		return nil, err
	}

	doc := bson.D{}
	if record.ID != "" {
		doc = append(doc, bson.E{Key: "_id", Value: record.ID})
	}
	if record.RequestID != "" {
		doc = append(doc, bson.E{Key: "request_id", Value: record.RequestID})
	}
	if record.Subject != "" {
		doc = append(doc, bson.E{Key: "subject", Value: record.Subject})
	}

	return append(doc,
		bson.E{Key: "prompt", Value: record.Prompt},
		bson.E{Key: "response", Value: response},
		bson.E{Key: "timestamp", Value: record.Timestamp},
	), nil
}

// responseValue converts the upstream JSON body to BSON without passing
// through Go maps, so key order and integer values are stored as received.
// The body is wrapped in a document because extended JSON only parses
// documents at the top level.
func responseValue(payload json.RawMessage) (interface{}, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	wrapped := make([]byte, 0, len(payload)+8)
	wrapped = append(wrapped, `{"v":`...)
	wrapped = append(wrapped, payload...)
	wrapped = append(wrapped, '}')

	var raw bson.Raw
	if err := bson.UnmarshalExtJSON(wrapped, false, &raw); err != nil {
		return nil, fmt.Errorf("mongo: decode response payload: %w", err)
	}
	return raw.Lookup("v"), nil
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return 10 * time.Second
}
