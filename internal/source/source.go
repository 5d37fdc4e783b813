// Package source provides document store abstractions for the three event
// streams. Implementations include SQLite, a JSON-lines directory layout,
// and S3-hosted collection exports.
package source

import (
	"context"

	"github.com/tempofuse/tempofuse/pkg/types"
)

// Collection names in the backing document store, one per stream.
const (
	CollectionConcentrations = "concentrations"
	CollectionFeedback       = "feedback"
	CollectionDose           = "dose"
)

// RefKey marks a field value as a document reference. A value of the shape
// {"$ref": "users/<id>"} is a foreign-key-style reference to another
// document; the normalizer resolves these to plain user IDs.
const RefKey = "$ref"

// RawRecord is a single document fetched from a collection, before
// normalization. Field values are arbitrary JSON shapes, including
// embedded document references.
type RawRecord struct {
	// Collection is the collection the document came from
	Collection string

	// ID is the document ID within its collection
	ID string

	// Fields holds the document's named fields
	Fields map[string]any
}

// DocumentSource abstracts the per-collection document store feeding the
// pipeline. Implementations must return records in a stable order so that
// repeated runs over the same store produce identical output.
type DocumentSource interface {
	// FetchStream returns all raw records for one logical stream.
	// An unreachable store yields a SOURCE_UNAVAILABLE error, which is
	// fatal for the run.
	FetchStream(ctx context.Context, kind types.StreamKind) ([]RawRecord, error)

	// Collections lists the collection names present in the store.
	// Used by discovery; fusion only reads the three known streams.
	Collections(ctx context.Context) ([]string, error)

	// Close releases any resources held by the source.
	Close() error
}

// CollectionFor maps a stream kind to its backing collection name.
func CollectionFor(kind types.StreamKind) (string, bool) {
	switch kind {
	case types.StreamConcentration:
		return CollectionConcentrations, true
	case types.StreamFeedback:
		return CollectionFeedback, true
	case types.StreamDose:
		return CollectionDose, true
	}
	return "", false
}

// Ref builds a document reference field value pointing at the given user.
func Ref(userID string) map[string]any {
	return map[string]any{RefKey: "users/" + userID}
}
