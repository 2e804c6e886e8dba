// Package strata provides uniform data access across heterogeneous stores:
// object storage, relational databases, vector databases, document stores,
// and message brokers, all behind one provider contract.
//
// Every backend is a Provider with the same lifecycle (connect, ping, close),
// the same streaming read contract with per-item resumable positions, the
// same chunked write contract, and one normalized error taxonomy
// (CONNECTION, NOT_FOUND, INVALID_INPUT, TIMEOUT, PROVIDER).
//
// # Layout
//
//   - pkg/provider/core: the generic Provider, DataInput, DataOutput, and
//     Stream contracts every adapter implements
//   - pkg/provider/registry: name-based provider registration and lookup
//   - pkg/provider/{s3,postgres,qdrant,mongodb,kafka}: backend adapters
//   - pkg/models: the per-family data item types
//   - pkg/config: provider manifests with redacted credential handling
//   - pkg/strataerrors: the normalized error taxonomy
//   - cmd/strata: the CLI (version, list, ping)
//
// # Reading
//
// Reads return a Stream whose pairs carry both the item and the position to
// resume from. Persist the last position you processed; passing it back to
// Read continues strictly after it. How far that guarantee goes is a
// per-family property documented on each adapter.
//
// # Writing
//
// Writes accept a slice of items and push them to the backend in chunks of
// at most the provider's batch size, in order, using the backend's native
// bulk operation where one exists. Whether a retried chunk duplicates data
// depends on the backend's write semantics; each adapter documents its own.
package strata
