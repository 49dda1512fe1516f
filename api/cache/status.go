package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mriscale/api/database"
	"mriscale/jobs"
)

const (
	statusKeyPrefix = "job:status:"
	statusTTL       = 10 * time.Minute
)

// Entry is the cached slice of a job used to answer status polls without
// touching the record store. The owner id travels with it so the ownership
// guard holds on the fast path too.
type Entry struct {
	OwnerID  string         `json:"owner_id"`
	Status   jobs.JobStatus `json:"status"`
	Progress int            `json:"progress"`
}

type StatusCache struct {
	cache *database.Cache
}

func NewStatusCache(cache *database.Cache) *StatusCache {
	return &StatusCache{cache: cache}
}

func (sc *StatusCache) Get(ctx context.Context, jobID string) (*Entry, error) {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, jobID)

	data, err := sc.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (sc *StatusCache) Set(ctx context.Context, job *jobs.Job) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, job.ID)

	data, err := json.Marshal(Entry{
		OwnerID:  job.OwnerID,
		Status:   job.Status,
		Progress: job.Progress,
	})
	if err != nil {
		return err
	}
	return sc.cache.Set(ctx, key, data, statusTTL)
}

func (sc *StatusCache) Delete(ctx context.Context, jobID string) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, jobID)
	return sc.cache.Del(ctx, key)
}
