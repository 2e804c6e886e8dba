// Package qdrant implements the Strata provider contract for Qdrant vector
// collections.
//
// Reads use the scroll API. Qdrant's high-level client drops the next-page
// offset, so the provider talks to the low-level points service directly and
// tracks the scroll cursor itself. The resumable position is the last-yielded
// point ID; scrolling from it is inclusive, so a resumed read skips the first
// point when it matches the position.
//
// Writes upsert points in chunks of the configured batch size. Upserts are
// idempotent per point ID, so replaying a chunk after a failure overwrites
// rather than duplicates.
package qdrant

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/strataio/strata/pkg/logger"
	"github.com/strataio/strata/pkg/metrics"
	"github.com/strataio/strata/pkg/models"
	"github.com/strataio/strata/pkg/provider/core"
	"github.com/strataio/strata/pkg/strataerrors"
)

const defaultBatchSize = 100

// Credentials locates and authenticates a Qdrant instance.
type Credentials struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Params is the immutable configuration for one provider instance.
type Params struct {
	// Collection is the target collection (required). It must already exist;
	// connecting to an absent collection fails with NOT_FOUND.
	Collection string
	// BatchSize bounds scroll pages and upsert chunks; defaults to 100.
	BatchSize int
}

func (p *Params) withDefaults() {
	if p.BatchSize <= 0 {
		p.BatchSize = defaultBatchSize
	}
}

func (p *Params) validate() error {
	if p.Collection == "" {
		return strataerrors.New(strataerrors.KindInvalidInput, "collection is required")
	}
	return nil
}

// Position is the resumable cursor for a collection scroll: the ID of the
// last point yielded, either numeric or UUID. A zero Position scrolls from
// the beginning.
type Position struct {
	Num  *uint64 `json:"num,omitempty"`
	UUID string  `json:"uuid,omitempty"`
}

func (pos Position) pointID() *pb.PointId {
	switch {
	case pos.Num != nil:
		return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: *pos.Num}}
	case pos.UUID != "":
		return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pos.UUID}}
	default:
		return nil
	}
}

func positionOf(id *pb.PointId) Position {
	switch opt := id.GetPointIdOptions().(type) {
	case *pb.PointId_Num:
		num := opt.Num
		return Position{Num: &num}
	case *pb.PointId_Uuid:
		return Position{UUID: opt.Uuid}
	default:
		return Position{}
	}
}

func samePointID(a, b *pb.PointId) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch av := a.GetPointIdOptions().(type) {
	case *pb.PointId_Num:
		bv, ok := b.GetPointIdOptions().(*pb.PointId_Num)
		return ok && av.Num == bv.Num
	case *pb.PointId_Uuid:
		bv, ok := b.GetPointIdOptions().(*pb.PointId_Uuid)
		return ok && av.Uuid == bv.Uuid
	default:
		return false
	}
}

// pointsAPI is the slice of the points service the provider depends on.
// pb.PointsClient satisfies it.
type pointsAPI interface {
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// Provider is a connected handle to one Qdrant collection.
type Provider struct {
	name      string
	params    Params
	client    *pb.Client
	points    pointsAPI
	logger    *zap.Logger
	collector *metrics.Collector

	mu     sync.Mutex
	closed bool
}

var (
	_ core.Provider                              = (*Provider)(nil)
	_ core.DataInput[models.Embedding, Position] = (*Provider)(nil)
	_ core.DataOutput[models.Embedding]          = (*Provider)(nil)
)

// Connect dials Qdrant over gRPC and verifies the collection exists. An
// unreachable instance fails with CONNECTION; an absent collection with
// NOT_FOUND.
func Connect(ctx context.Context, creds Credentials, params Params) (*Provider, error) {
	params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}

	client, err := pb.NewClient(&pb.Config{
		Host:   creds.Host,
		Port:   creds.Port,
		APIKey: creds.APIKey,
		UseTLS: creds.UseTLS,
	})
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.KindConnection, "failed to create qdrant client")
	}

	exists, err := client.CollectionExists(ctx, params.Collection)
	if err != nil {
		_ = client.Close()
		return nil, classify(err, "collection check failed")
	}
	if !exists {
		_ = client.Close()
		return nil, strataerrors.Newf(strataerrors.KindNotFound, "collection %s does not exist", params.Collection)
	}

	p := newProvider(client.GetPointsClient(), params)
	p.client = client

	p.logger.Info("qdrant provider connected",
		zap.String("collection", params.Collection),
		zap.Int("batch_size", params.BatchSize))

	return p, nil
}

func newProvider(points pointsAPI, params Params) *Provider {
	params.withDefaults()
	return &Provider{
		name:      "qdrant",
		params:    params,
		points:    points,
		logger:    logger.Get().With(zap.String("provider", "qdrant"), zap.String("collection", params.Collection)),
		collector: metrics.NewCollector(params.Collection, "qdrant"),
	}
}

// Name implements core.Provider.
func (p *Provider) Name() string { return p.name }

// Family implements core.Provider.
func (p *Provider) Family() core.Family { return core.FamilyVector }

// Ping implements core.Provider.
func (p *Provider) Ping(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return classify(err, "qdrant ping failed")
	}
	return nil
}

// Close tears down the gRPC connection. Idempotent.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return classify(err, "failed to close qdrant connection")
		}
	}
	p.logger.Info("qdrant provider closed")
	return nil
}

// Read streams points from the collection in scroll order, starting after
// pos. Each yielded pair carries the point's ID as the position to resume
// from.
func (p *Provider) Read(ctx context.Context, pos Position) (*core.Stream[models.Embedding, Position], error) {
	stream, emitter := core.NewStream[models.Embedding, Position](p.params.BatchSize)

	go func() {
		defer emitter.Close()
		p.streamPoints(ctx, pos, emitter)
	}()

	return stream, nil
}

func (p *Provider) streamPoints(ctx context.Context, pos Position, emitter *core.Emitter[models.Embedding, Position]) {
	limit := uint32(p.params.BatchSize)
	offset := pos.pointID()
	// Scrolling from an offset is inclusive of it; skip the already-yielded
	// point on resume.
	skip := offset

	for {
		resp, err := p.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: p.params.Collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			p.failStream(emitter, classify(err, "scroll failed"))
			return
		}

		points := resp.GetResult()
		yielded := 0
		for _, point := range points {
			if skip != nil && samePointID(point.GetId(), skip) {
				skip = nil
				continue
			}
			skip = nil

			if !emitter.Send(ctx, embeddingOf(point), positionOf(point.GetId())) {
				return
			}
			yielded++
		}

		p.collector.RecordRead(yielded)

		next := resp.GetNextPageOffset()
		if next == nil {
			return
		}
		offset = next
	}
}

func embeddingOf(point *pb.RetrievedPoint) models.Embedding {
	return models.Embedding{
		ID:       pointIDString(point.GetId()),
		Vector:   point.GetVectors().GetVector().GetData(),
		Metadata: payloadToMetadata(point.GetPayload()),
	}
}

func pointIDString(id *pb.PointId) string {
	switch opt := id.GetPointIdOptions().(type) {
	case *pb.PointId_Num:
		return strconv.FormatUint(opt.Num, 10)
	case *pb.PointId_Uuid:
		return opt.Uuid
	default:
		return ""
	}
}

// parsePointID accepts numeric and UUID identifiers, matching the two forms
// Qdrant supports.
func parsePointID(id string) (*pb.PointId, error) {
	if num, err := strconv.ParseUint(id, 10, 64); err == nil {
		return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: num}}, nil
	}
	if _, err := uuid.Parse(id); err == nil {
		return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}, nil
	}
	return nil, strataerrors.Newf(strataerrors.KindInvalidInput, "point id %q is neither numeric nor a uuid", id)
}

// Write upserts embeddings in chunks of at most the configured batch size,
// in order. Embeddings without an ID get a fresh UUID. Empty input is a
// no-op.
func (p *Provider) Write(ctx context.Context, items []models.Embedding) error {
	if len(items) == 0 {
		return nil
	}

	timer := p.collector.StartTimer("write")
	defer timer.Stop()

	wait := true
	for _, chunk := range core.Chunks(items, p.params.BatchSize) {
		points := make([]*pb.PointStruct, 0, len(chunk))
		for i, item := range chunk {
			if len(item.Vector) == 0 {
				return strataerrors.Newf(strataerrors.KindInvalidInput, "embedding %d has an empty vector", i)
			}

			id := item.ID
			if id == "" {
				id = uuid.NewString()
			}
			pointID, err := parsePointID(id)
			if err != nil {
				return err
			}

			points = append(points, &pb.PointStruct{
				Id:      pointID,
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: item.Vector}}},
				Payload: metadataToPayload(item.Metadata),
			})
		}

		if _, err := p.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: p.params.Collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			cerr := classify(err, "upsert failed")
			p.collector.RecordError(string(cerr.Kind))
			return cerr
		}
		p.collector.RecordWrite(len(chunk))
	}

	p.logger.Debug("embeddings written", zap.Int("count", len(items)))
	return nil
}

func (p *Provider) failStream(emitter *core.Emitter[models.Embedding, Position], err error) {
	p.collector.RecordError(string(strataerrors.KindOf(err)))
	emitter.Fail(err)
}
