// Package redisstore is a shared store kept in Redis.
//
// Each job lives under keys sharing the hash tag {job}, so a job maps to a
// single cluster slot and the publish script can touch all of its keys:
//
//	<prefix>:{job}:rev            current revision
//	<prefix>:{job}:ops            sorted set, score = seq, member = operation JSON
//	<prefix>:{job}:revisions      list of revision record JSON
//	<prefix>:{job}:last           hash user -> last revision published
//	<prefix>:{job}:drafts:<user>  list of draft operation JSON
//
// Commit runs as one Lua script, which Redis executes atomically.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/publish"
)

const defaultPrefix = "cadlog"

// commitScript appends operations as revision base+1, or returns -1 when
// the job has moved past base.
var commitScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur ~= tonumber(ARGV[1]) then
	return -1
end
local rev = cur + 1
for i = 4, #ARGV, 2 do
	redis.call('ZADD', KEYS[2], ARGV[i], ARGV[i + 1])
end
redis.call('RPUSH', KEYS[3], ARGV[2])
redis.call('HSET', KEYS[4], ARGV[3], rev)
redis.call('DEL', KEYS[5])
redis.call('SET', KEYS[1], rev)
return rev
`)

// Store is a Redis shared store. It implements publish.SharedStore and the
// session draft store.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ publish.SharedStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key. The default is "cadlog".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", addr, err)
	}
	return New(client, opts...), nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(job, suffix string) string {
	return fmt.Sprintf("%s:{%s}:%s", s.prefix, job, suffix)
}

func (s *Store) draftsKey(job, user string) string {
	return s.key(job, "drafts:"+user)
}

// CurrentRevision returns the job's published revision, 0 if never published.
func (s *Store) CurrentRevision(ctx context.Context, job string) (int64, error) {
	rev, err := s.client.Get(ctx, s.key(job, "rev")).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get revision: %w", err)
	}
	return rev, nil
}

// Commit appends req.Ops as revision req.Base+1 and clears the author's
// drafts atomically.
func (s *Store) Commit(ctx context.Context, req publish.CommitRequest) (ir.RevisionRecord, error) {
	record := req.Record()
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: marshal record: %w", err)
	}

	args := make([]any, 0, 3+2*len(req.Ops))
	args = append(args, req.Base, string(recordJSON), req.Author)
	for _, op := range req.Ops {
		data, err := encodeOperation(op)
		if err != nil {
			return ir.RevisionRecord{}, fmt.Errorf("commit: operation %s: %w", op.ID, err)
		}
		args = append(args, op.Seq, data)
	}

	keys := []string{
		s.key(req.Job, "rev"),
		s.key(req.Job, "ops"),
		s.key(req.Job, "revisions"),
		s.key(req.Job, "last"),
		s.draftsKey(req.Job, req.Author),
	}
	rev, err := commitScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: %w", err)
	}
	if rev < 0 {
		return ir.RevisionRecord{}, publish.ErrRevisionConflict
	}
	return record, nil
}

// LoadPublished returns every published operation of job in sequence order.
func (s *Store) LoadPublished(ctx context.Context, job string) ([]ir.Operation, error) {
	members, err := s.client.ZRange(ctx, s.key(job, "ops"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}
	return decodeOperations(members)
}

// Revisions returns the job's revision records in revision order.
func (s *Store) Revisions(ctx context.Context, job string) ([]ir.RevisionRecord, error) {
	items, err := s.client.LRange(ctx, s.key(job, "revisions"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load revisions: %w", err)
	}
	records := make([]ir.RevisionRecord, 0, len(items))
	for i, item := range items {
		var rec ir.RevisionRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode revision %d: %w", i+1, err)
		}
		if rec.Sequences == nil {
			rec.Sequences = []int64{}
		}
		rec.Timestamp = rec.Timestamp.UTC()
		records = append(records, rec)
	}
	return records, nil
}

// LastRevisionBy returns the highest revision user published for job, or 0.
func (s *Store) LastRevisionBy(ctx context.Context, job, user string) (int64, error) {
	v, err := s.client.HGet(ctx, s.key(job, "last"), user).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get last revision: %w", err)
	}
	rev, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse last revision %q: %w", v, err)
	}
	return rev, nil
}

// SaveDrafts replaces the user's draft operations for job with ops.
func (s *Store) SaveDrafts(ctx context.Context, job, user string, ops []ir.Operation) error {
	items := make([]any, len(ops))
	for i, op := range ops {
		data, err := encodeOperation(op)
		if err != nil {
			return fmt.Errorf("save drafts: operation %s: %w", op.ID, err)
		}
		items[i] = data
	}

	key := s.draftsKey(job, user)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(items) > 0 {
			pipe.RPush(ctx, key, items...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save drafts: %w", err)
	}
	return nil
}

// LoadDrafts returns the user's draft operations for job ordered by seq.
func (s *Store) LoadDrafts(ctx context.Context, job, user string) ([]ir.Operation, error) {
	items, err := s.client.LRange(ctx, s.draftsKey(job, user), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load drafts: %w", err)
	}
	return decodeOperations(items)
}

// wireOperation is the JSON stored per operation. Params are canonical JSON.
type wireOperation struct {
	ID         ir.OpID         `json:"id"`
	Seq        int64           `json:"seq"`
	Kind       string          `json:"kind"`
	Inputs     []ir.FeatureID  `json:"inputs"`
	Outputs    []ir.FeatureID  `json:"outputs"`
	Params     json.RawMessage `json:"params"`
	Status     ir.Status       `json:"status"`
	Supersedes ir.OpID         `json:"supersedes,omitempty"`
	Author     string          `json:"author"`
}

func encodeOperation(op ir.Operation) (string, error) {
	params := op.Params
	if params == nil {
		params = ir.IRObject{}
	}
	paramsJSON, err := ir.MarshalCanonical(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	w := wireOperation{
		ID:         op.ID,
		Seq:        op.Seq,
		Kind:       op.Kind,
		Inputs:     nonNil(op.Inputs),
		Outputs:    nonNil(op.Outputs),
		Params:     paramsJSON,
		Status:     op.Status,
		Supersedes: op.Supersedes,
		Author:     op.Author,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeOperations(items []string) ([]ir.Operation, error) {
	ops := make([]ir.Operation, 0, len(items))
	for i, item := range items {
		var w wireOperation
		if err := json.Unmarshal([]byte(item), &w); err != nil {
			return nil, fmt.Errorf("decode operation %d: %w", i, err)
		}
		var params ir.IRObject
		if err := json.Unmarshal(w.Params, &params); err != nil {
			return nil, fmt.Errorf("operation %s: unmarshal params: %w", w.ID, err)
		}
		if !ir.ValidStatuses[w.Status] {
			return nil, fmt.Errorf("operation %s: invalid status %q", w.ID, w.Status)
		}
		ops = append(ops, ir.Operation{
			ID:         w.ID,
			Seq:        w.Seq,
			Kind:       w.Kind,
			Inputs:     nonNil(w.Inputs),
			Outputs:    nonNil(w.Outputs),
			Params:     params,
			Status:     w.Status,
			Supersedes: w.Supersedes,
			Author:     w.Author,
		})
	}
	return ops, nil
}

func nonNil(ids []ir.FeatureID) []ir.FeatureID {
	if ids == nil {
		return []ir.FeatureID{}
	}
	return ids
}
