// Package redisstore implements internal/store.Store over Redis, using
// go-redis/redis/v8 (grounded in the boss-raid-game example repo's use of
// the same client for its session/match state). A document's current
// state lives as a single JSON blob under "doc:<id>"; its operation log
// lives in a sorted set keyed "ophist:<id>", scored by DocumentVersion so
// LoadOperationHistory can range-query by version cheaply.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/kolabdoc/collabedit/internal/store"
)

// Store is a Redis-backed store.Store.
type Store struct {
	client *redis.Client
}

// Open connects to addr (host:port) and verifies reachability with PING.
func Open(ctx context.Context, addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: ping %s: %w", addr, err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error { return s.client.Close() }

func docKey(documentID string) string     { return "doc:" + documentID }
func historyKey(documentID string) string { return "ophist:" + documentID }

// LoadDocument implements store.Store.
func (s *Store) LoadDocument(ctx context.Context, documentID string) (*ot.DocumentState, error) {
	raw, err := s.client.Get(ctx, docKey(documentID)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: load %s: %w", documentID, err)
	}

	var doc ot.DocumentState
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("redisstore: decode %s: %w", documentID, err)
	}
	return &doc, nil
}

// SaveDocument implements store.Store: last-write-wins (a plain SET).
func (s *Store) SaveDocument(ctx context.Context, documentID string, doc *ot.DocumentState) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redisstore: encode %s: %w", documentID, err)
	}
	if err := s.client.Set(ctx, docKey(documentID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: save %s: %w", documentID, err)
	}
	return nil
}

// AppendOperation implements store.Store.
func (s *Store) AppendOperation(ctx context.Context, documentID string, op ot.Operation) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("redisstore: encode operation for %s: %w", documentID, err)
	}
	member := &redis.Z{Score: float64(op.Metadata.DocumentVersion), Member: raw}
	if err := s.client.ZAdd(ctx, historyKey(documentID), member).Err(); err != nil {
		return fmt.Errorf("redisstore: append operation for %s: %w", documentID, err)
	}
	return nil
}

// LoadOperationHistory implements store.Store, ranging the sorted set for
// scores strictly greater than sinceVersion.
func (s *Store) LoadOperationHistory(ctx context.Context, documentID string, sinceVersion int) ([]ot.Operation, error) {
	members, err := s.client.ZRangeByScore(ctx, historyKey(documentID), &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", sinceVersion), // "(" excludes the boundary itself
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load history for %s: %w", documentID, err)
	}

	ops := make([]ot.Operation, 0, len(members))
	for _, raw := range members {
		var op ot.Operation
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			return nil, fmt.Errorf("redisstore: decode history entry for %s: %w", documentID, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

var _ store.Store = (*Store)(nil)
