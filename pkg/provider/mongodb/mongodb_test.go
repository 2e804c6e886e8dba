package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/strataio/strata/pkg/models"
	"github.com/strataio/strata/pkg/strataerrors"
)

// fakeCollection serves in-memory documents keyed by a string _id and
// records inserts.
type fakeCollection struct {
	docs      []bson.M
	inserts   [][]interface{}
	findErr   error
	insertErr error
}

func newFakeCollection(n int) *fakeCollection {
	f := &fakeCollection{}
	for i := 1; i <= n; i++ {
		f.docs = append(f.docs, bson.M{
			"_id":     fmt.Sprintf("doc-%02d", i),
			"content": fmt.Sprintf("body %d", i),
			"rank":    i,
		})
	}
	return f
}

func (f *fakeCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}

	after := ""
	if m, ok := filter.(bson.M); ok {
		if idFilter, ok := m["_id"].(bson.M); ok {
			after = idFilter["$gt"].(string)
		}
	}

	var matched []interface{}
	sorted := append([]bson.M{}, f.docs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i]["_id"].(string) < sorted[j]["_id"].(string)
	})
	for _, doc := range sorted {
		if doc["_id"].(string) > after {
			matched = append(matched, doc)
		}
	}
	return mongo.NewCursorFromDocuments(matched, nil, nil)
}

func (f *fakeCollection) InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.inserts = append(f.inserts, documents)
	return &mongo.InsertManyResult{}, nil
}

func testProvider(coll collectionAPI, batchSize int) *Provider {
	return newProvider(coll, Params{Database: "app", Collection: "notes", BatchSize: batchSize})
}

func collect(t *testing.T, p *Provider, pos Position) ([]models.Document, []Position) {
	t.Helper()

	stream, err := p.Read(context.Background(), pos)
	require.NoError(t, err)

	var docs []models.Document
	var positions []Position
	for pair := range stream.Items {
		docs = append(docs, pair.Item)
		positions = append(positions, pair.Position)
	}
	select {
	case err := <-stream.Errors:
		require.NoError(t, err)
	default:
	}
	return docs, positions
}

func TestReadAllSortedByID(t *testing.T) {
	p := testProvider(newFakeCollection(5), 2)

	docs, positions := collect(t, p, Position{})

	require.Len(t, docs, 5)
	assert.Equal(t, "doc-01", docs[0].ID)
	assert.Equal(t, "body 3", docs[2].Content["content"])
	assert.EqualValues(t, 4, docs[3].Content["rank"])
	assert.Equal(t, Position{ID: "doc-05"}, positions[4])
}

func TestReadResume(t *testing.T) {
	p := testProvider(newFakeCollection(7), 3)

	_, positions := collect(t, p, Position{})
	require.Len(t, positions, 7)

	// Resume from the third document: exactly the documents after it, once
	// each.
	docs, _ := collect(t, p, positions[2])
	require.Len(t, docs, 4)
	for i, doc := range docs {
		assert.Equal(t, fmt.Sprintf("doc-%02d", i+4), doc.ID)
	}
}

func TestReadRejectsMalformedObjectIDPosition(t *testing.T) {
	p := testProvider(newFakeCollection(1), 10)

	_, err := p.Read(context.Background(), Position{ID: "zzz", IsObjectID: true})
	require.Error(t, err)
	assert.True(t, strataerrors.IsKind(err, strataerrors.KindInvalidInput))
}

func TestWriteChunks(t *testing.T) {
	fake := newFakeCollection(0)
	p := testProvider(fake, 2)

	items := make([]models.Document, 0, 5)
	for i := 1; i <= 5; i++ {
		items = append(items, models.Document{
			ID:       fmt.Sprintf("w-%d", i),
			Content:  map[string]interface{}{"body": "text"},
			Metadata: models.Metadata{"i": i},
		})
	}
	require.NoError(t, p.Write(context.Background(), items))

	// 5 documents in chunks of 2: three InsertMany calls of 2, 2, and 1.
	require.Len(t, fake.inserts, 3)
	assert.Len(t, fake.inserts[0], 2)
	assert.Len(t, fake.inserts[2], 1)

	first := fake.inserts[0][0].(bson.M)
	assert.Equal(t, "w-1", first["_id"])
	assert.Equal(t, "text", first["body"])
	assert.Equal(t, 1, first["i"])
}

func TestWriteEmptyIsNoop(t *testing.T) {
	fake := newFakeCollection(0)
	p := testProvider(fake, 2)

	require.NoError(t, p.Write(context.Background(), nil))
	assert.Empty(t, fake.inserts)
}

func TestWriteObjectIDRoundTrip(t *testing.T) {
	fake := newFakeCollection(0)
	p := testProvider(fake, 10)

	oid := primitive.NewObjectID()
	require.NoError(t, p.Write(context.Background(), []models.Document{{ID: oid.Hex()}}))

	raw := fake.inserts[0][0].(bson.M)
	assert.Equal(t, oid, raw["_id"])
}

func TestDocumentOf(t *testing.T) {
	oid := primitive.NewObjectID()
	doc, pos := documentOf(bson.M{
		"_id":     oid,
		"content": "hello",
		"author":  "ada",
	})

	assert.Equal(t, oid.Hex(), doc.ID)
	assert.Equal(t, map[string]interface{}{"content": "hello", "author": "ada"}, doc.Content)
	assert.Equal(t, Position{ID: oid.Hex(), IsObjectID: true}, pos)
}

func TestCloseIdempotent(t *testing.T) {
	p := testProvider(newFakeCollection(0), 10)

	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind strataerrors.Kind
	}{
		{"namespace not found", mongo.CommandError{Code: 26}, strataerrors.KindNotFound},
		{"no documents", mongo.ErrNoDocuments, strataerrors.KindNotFound},
		{"unauthorized", mongo.CommandError{Code: 13}, strataerrors.KindConnection},
		{"auth failed", mongo.CommandError{Code: 18}, strataerrors.KindConnection},
		{"maxtime expired", mongo.CommandError{Code: 50, Labels: []string{"ExceededTimeLimit"}}, strataerrors.KindTimeout},
		{"duplicate key", mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}, strataerrors.KindInvalidInput},
		{"ctx deadline", context.DeadlineExceeded, strataerrors.KindTimeout},
		{"opaque", errors.New("boom"), strataerrors.KindProvider},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(tc.err, "op failed")
			assert.Equal(t, tc.kind, strataerrors.KindOf(err))
		})
	}
}
