// Package mongodb implements the Strata provider contract for MongoDB
// collections.
//
// Reads sort by _id ascending and resume with an _id keyset filter, so a
// resumed read yields exactly the documents strictly after the last-seen
// _id, once each. Writes issue one ordered InsertMany per chunk of the
// configured batch size; inserts are not idempotent per document, so
// retrying a partially failed write may duplicate documents.
package mongodb

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/strataio/strata/pkg/logger"
	"github.com/strataio/strata/pkg/metrics"
	"github.com/strataio/strata/pkg/models"
	"github.com/strataio/strata/pkg/provider/core"
	"github.com/strataio/strata/pkg/strataerrors"
)

const defaultBatchSize = 1000

// Credentials locates and authenticates a MongoDB deployment.
type Credentials struct {
	// URI is a mongodb:// or mongodb+srv:// connection string.
	URI string
}

// Params is the immutable configuration for one provider instance.
type Params struct {
	// Database is the target database (required).
	Database string
	// Collection is the target collection (required). It must already exist;
	// connecting to an absent collection fails with NOT_FOUND.
	Collection string
	// BatchSize bounds cursor batches and write chunks; defaults to 1000.
	BatchSize int
}

func (p *Params) withDefaults() {
	if p.BatchSize <= 0 {
		p.BatchSize = defaultBatchSize
	}
}

func (p *Params) validate() error {
	if p.Database == "" {
		return strataerrors.New(strataerrors.KindInvalidInput, "database is required")
	}
	if p.Collection == "" {
		return strataerrors.New(strataerrors.KindInvalidInput, "collection is required")
	}
	return nil
}

// Position is the resumable cursor for a collection read: the last-seen _id.
// ObjectIDs round-trip through their hex form. A zero Position reads from
// the beginning.
type Position struct {
	ID         string `json:"id,omitempty"`
	IsObjectID bool   `json:"object_id,omitempty"`
}

func (pos Position) filterValue() (interface{}, error) {
	if !pos.IsObjectID {
		return pos.ID, nil
	}
	oid, err := primitive.ObjectIDFromHex(pos.ID)
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.KindInvalidInput, "position carries a malformed object id")
	}
	return oid, nil
}

func positionOf(id interface{}) Position {
	if oid, ok := id.(primitive.ObjectID); ok {
		return Position{ID: oid.Hex(), IsObjectID: true}
	}
	return Position{ID: idString(id)}
}

// collectionAPI is the slice of mongo.Collection the provider depends on.
type collectionAPI interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// Provider is a connected handle to one MongoDB collection.
type Provider struct {
	name      string
	params    Params
	client    *mongo.Client
	coll      collectionAPI
	logger    *zap.Logger
	collector *metrics.Collector

	mu     sync.Mutex
	closed bool
}

var (
	_ core.Provider                             = (*Provider)(nil)
	_ core.DataInput[models.Document, Position] = (*Provider)(nil)
	_ core.DataOutput[models.Document]          = (*Provider)(nil)
)

// Connect dials the deployment and verifies the collection exists. An
// unreachable deployment fails with CONNECTION; an absent collection with
// NOT_FOUND.
func Connect(ctx context.Context, creds Credentials, params Params) (*Provider, error) {
	params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(creds.URI))
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.KindConnection, "failed to create mongo client")
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, strataerrors.Wrap(err, strataerrors.KindConnection, "failed to reach mongodb")
	}

	db := client.Database(params.Database)
	names, err := db.ListCollectionNames(ctx, bson.M{"name": params.Collection})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, classify(err, "collection check failed")
	}
	if len(names) == 0 {
		_ = client.Disconnect(ctx)
		return nil, strataerrors.Newf(strataerrors.KindNotFound, "collection %s.%s does not exist",
			params.Database, params.Collection)
	}

	p := newProvider(db.Collection(params.Collection), params)
	p.client = client

	p.logger.Info("mongodb provider connected",
		zap.String("database", params.Database),
		zap.String("collection", params.Collection),
		zap.Int("batch_size", params.BatchSize))

	return p, nil
}

func newProvider(coll collectionAPI, params Params) *Provider {
	params.withDefaults()
	return &Provider{
		name:      "mongodb",
		params:    params,
		coll:      coll,
		logger:    logger.Get().With(zap.String("provider", "mongodb"), zap.String("collection", params.Collection)),
		collector: metrics.NewCollector(params.Collection, "mongodb"),
	}
}

// Name implements core.Provider.
func (p *Provider) Name() string { return p.name }

// Family implements core.Provider.
func (p *Provider) Family() core.Family { return core.FamilyDocument }

// Ping implements core.Provider.
func (p *Provider) Ping(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	if err := p.client.Ping(ctx, nil); err != nil {
		return classify(err, "mongodb ping failed")
	}
	return nil
}

// Close disconnects the client. Idempotent.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.client != nil {
		if err := p.client.Disconnect(ctx); err != nil {
			return classify(err, "failed to disconnect mongo client")
		}
	}
	p.logger.Info("mongodb provider closed")
	return nil
}

// Read streams documents sorted by _id ascending, starting strictly after
// pos. Each yielded pair carries the document's _id as the position to
// resume from.
func (p *Provider) Read(ctx context.Context, pos Position) (*core.Stream[models.Document, Position], error) {
	filter := bson.M{}
	if pos.ID != "" {
		after, err := pos.filterValue()
		if err != nil {
			return nil, err
		}
		filter["_id"] = bson.M{"$gt": after}
	}

	stream, emitter := core.NewStream[models.Document, Position](p.params.BatchSize)

	go func() {
		defer emitter.Close()
		p.streamDocuments(ctx, filter, emitter)
	}()

	return stream, nil
}

func (p *Provider) streamDocuments(ctx context.Context, filter bson.M, emitter *core.Emitter[models.Document, Position]) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetBatchSize(int32(p.params.BatchSize))

	cursor, err := p.coll.Find(ctx, filter, opts)
	if err != nil {
		p.failStream(emitter, classify(err, "find failed"))
		return
	}
	defer cursor.Close(ctx)

	count := 0
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			p.failStream(emitter, classify(err, "failed to decode document"))
			return
		}

		doc, next := documentOf(raw)
		if !emitter.Send(ctx, doc, next) {
			return
		}
		count++
	}

	if err := cursor.Err(); err != nil {
		p.failStream(emitter, classify(err, "cursor iteration failed"))
		return
	}
	p.collector.RecordRead(count)
}

// documentOf maps a raw document into the Document model: _id becomes ID and
// every other field lands in Content.
func documentOf(raw bson.M) (models.Document, Position) {
	doc := models.Document{}
	pos := Position{}

	if id, ok := raw["_id"]; ok {
		pos = positionOf(id)
		doc.ID = pos.ID
	}

	for key, value := range raw {
		if key == "_id" {
			continue
		}
		if doc.Content == nil {
			doc.Content = make(map[string]interface{}, len(raw)-1)
		}
		doc.Content[key] = convertBSON(value)
	}
	return doc, pos
}

// Write inserts documents in chunks of at most the configured batch size,
// one ordered InsertMany per chunk. Documents without an ID let MongoDB
// assign one. Empty input is a no-op.
func (p *Provider) Write(ctx context.Context, items []models.Document) error {
	if len(items) == 0 {
		return nil
	}

	timer := p.collector.StartTimer("write")
	defer timer.Stop()

	insertOpts := options.InsertMany().SetOrdered(true)

	for _, chunk := range core.Chunks(items, p.params.BatchSize) {
		docs := make([]interface{}, 0, len(chunk))
		for _, item := range chunk {
			docs = append(docs, rawOf(item))
		}

		if _, err := p.coll.InsertMany(ctx, docs, insertOpts); err != nil {
			cerr := classify(err, "bulk insert failed")
			p.collector.RecordError(string(cerr.Kind))
			return cerr
		}
		p.collector.RecordWrite(len(chunk))
	}

	p.logger.Debug("documents written", zap.Int("count", len(items)))
	return nil
}

// rawOf flattens a Document for insertion: metadata first, content fields
// over it, _id last.
func rawOf(item models.Document) bson.M {
	raw := bson.M{}
	for key, value := range item.Metadata {
		raw[key] = value
	}
	for key, value := range item.Content {
		raw[key] = value
	}
	if item.ID != "" {
		if oid, err := primitive.ObjectIDFromHex(item.ID); err == nil {
			raw["_id"] = oid
		} else {
			raw["_id"] = item.ID
		}
	}
	return raw
}

func (p *Provider) failStream(emitter *core.Emitter[models.Document, Position], err error) {
	p.collector.RecordError(string(strataerrors.KindOf(err)))
	emitter.Fail(err)
}
