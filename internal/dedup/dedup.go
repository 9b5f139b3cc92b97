// Package dedup decides whether freshly written bytes become a new object
// or collapse onto an existing one. The content hash is only known after
// the physical write, so resolution always runs against a location that
// already holds bytes; redundant copies are removed here.
package dedup

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tensorbin/internal/model"
	"tensorbin/internal/storage"
)

var tracer = otel.Tracer("tensorbin/dedup")

// chunkSize is the read granularity for hashing. Objects are streamed in
// fixed-size chunks; whole-file buffering would break large uploads.
const chunkSize = 8192

// Outcome classifies a resolution.
type Outcome int

const (
	// New means no stored object carries this content hash; the written
	// location becomes the object's permanent storage location.
	New Outcome = iota
	// DuplicateSelf means the requesting tenant already owns this content;
	// the redundant copy has been removed.
	DuplicateSelf
	// Conflict means a different tenant owns this content; the redundant
	// copy has been removed and the upload must fail.
	Conflict
)

// Resolution is the result of hashing a written location and consulting the
// content-hash index.
type Resolution struct {
	Outcome  Outcome
	Hash     string
	Size     int64
	Existing *model.Object // set for DuplicateSelf and Conflict
}

// HashIndex is the slice of the object repository the engine needs: the
// store-wide content-hash lookup.
type HashIndex interface {
	FindByHash(ctx context.Context, hash string) (*model.Object, error)
}

// Engine hashes written content and resolves it against the hash index.
type Engine struct {
	store storage.Storage
	index HashIndex
}

// NewEngine constructs a deduplication engine.
func NewEngine(store storage.Storage, index HashIndex) *Engine {
	return &Engine{store: store, index: index}
}

// Hash streams the object at key through SHA-256 in fixed-size chunks and
// returns the hex digest plus the exact byte count.
func (e *Engine) Hash(ctx context.Context, key string) (string, int64, error) {
	rc, _, err := e.store.Get(ctx, key)
	if err != nil {
		return "", 0, fmt.Errorf("read back %s: %w", key, err)
	}
	defer rc.Close()

	h := sha256.New()
	n, err := io.CopyBuffer(h, rc, make([]byte, chunkSize))
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", key, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Resolve hashes the just-written bytes at key and decides their fate:
//   - no index match: the location is kept (outcome New)
//   - match owned by tenantID: redundant copy deleted (DuplicateSelf)
//   - match owned by another tenant: redundant copy deleted (Conflict)
//
// Two concurrent uploads of identical bytes can both resolve New before
// either commits; the index's unique constraint settles that race and the
// losing writer re-runs resolution as a lookup.
func (e *Engine) Resolve(ctx context.Context, tenantID, key string) (*Resolution, error) {
	ctx, span := tracer.Start(ctx, "dedup.Resolve",
		trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	hash, size, err := e.Hash(ctx, key)
	if err != nil {
		return nil, err
	}

	existing, err := e.index.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Resolution{Outcome: New, Hash: hash, Size: size}, nil
		}
		return nil, fmt.Errorf("hash lookup: %w", err)
	}

	// The written bytes are redundant either way; remove them. A failed
	// removal leaks storage but must not mask the resolution.
	if err := e.store.Delete(ctx, key); err != nil {
		logLeak(key, err)
	}

	if existing.TenantID == tenantID {
		return &Resolution{Outcome: DuplicateSelf, Hash: hash, Size: size, Existing: existing}, nil
	}
	return &Resolution{Outcome: Conflict, Hash: hash, Size: size, Existing: existing}, nil
}

// logLeak emits a JSON warning for a physical object that could not be
// cleaned up. Operators reconcile these against the index offline.
func logLeak(key string, err error) {
	b, mErr := json.Marshal(map[string]any{
		"ts":            time.Now().UTC().Format(time.RFC3339Nano),
		"level":         "warn",
		"component":     "dedup",
		"event":         "leaked_object",
		"storage_key":   key,
		"error_message": err.Error(),
	})
	if mErr != nil {
		log.Printf("leaked object %s: %v", key, err)
		return
	}
	log.SetFlags(0)
	log.Println(string(b))
}
