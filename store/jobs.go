package store

import (
	"context"
	"errors"
	"time"
)

const jobPrefix = "job:"

// MarkJob records that the named background job last ran at t.
func MarkJob(ctx context.Context, kv KV, name string, t time.Time) error {
	return kv.Put(ctx, jobPrefix+name, []byte(t.UTC().Format(time.RFC3339)))
}

// JobTimestamps returns all recorded job timestamps keyed by job name.
func JobTimestamps(ctx context.Context, kv KV) (map[string]time.Time, error) {
	keys, err := kv.List(ctx, jobPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(keys))
	for _, k := range keys {
		raw, err := kv.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, string(raw))
		if err != nil {
			continue
		}
		out[k[len(jobPrefix):]] = t
	}
	return out, nil
}
