// Package models defines the per-family data items carried through Strata
// providers: binary objects, documents, embeddings, rows, messages, and graph
// elements. All metadata values are JSON-compatible trees (string, number,
// bool, nil, []interface{}, map[string]interface{}).
package models

import (
	"time"

	"github.com/google/uuid"
)

// Metadata is a JSON-compatible key-value tree attached to an item.
type Metadata = map[string]interface{}

// Object is a binary payload stored under a key in an object store.
type Object struct {
	Key          string    `json:"key"`
	Data         []byte    `json:"data,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
	Metadata     Metadata  `json:"metadata,omitempty"`
}

// Document is a JSON document with an identity, as stored in a document store.
type Document struct {
	ID       string                 `json:"id"`
	Content  map[string]interface{} `json:"content"`
	Metadata Metadata               `json:"metadata,omitempty"`
}

// NewDocument creates a document with a generated id.
func NewDocument(content map[string]interface{}) Document {
	return Document{
		ID:      uuid.NewString(),
		Content: content,
	}
}

// Embedding is a float vector with an identity and payload metadata, as
// stored in a vector index.
type Embedding struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"vector"`
	Metadata Metadata  `json:"metadata,omitempty"`
}

// NewEmbedding creates an embedding with a generated id.
func NewEmbedding(vector []float32, metadata Metadata) Embedding {
	return Embedding{
		ID:       uuid.NewString(),
		Vector:   vector,
		Metadata: metadata,
	}
}

// Row is a single relational record: column name to JSON-compatible value.
type Row map[string]interface{}

// Message is a single message from a broker partition.
type Message struct {
	ID        string            `json:"id"`
	Key       []byte            `json:"key,omitempty"`
	Payload   []byte            `json:"payload"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Node is a graph vertex.
type Node struct {
	ID         string                 `json:"id"`
	Labels     []string               `json:"labels,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Edge is a directed graph relationship.
type Edge struct {
	ID         string                 `json:"id"`
	From       string                 `json:"from"`
	To         string                 `json:"to"`
	Label      string                 `json:"label"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}
