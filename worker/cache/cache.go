package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"mriscale/jobs"
)

const statusTTL = 10 * time.Minute

// StatusCache writes the job's status/progress through to redis on every
// report, keeping the api tier's poll fast path warm. The entry layout
// matches api/cache.
type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

func (c *StatusCache) Set(ctx context.Context, job *jobs.Job) error {
	data, err := json.Marshal(struct {
		OwnerID  string         `json:"owner_id"`
		Status   jobs.JobStatus `json:"status"`
		Progress int            `json:"progress"`
	}{
		OwnerID:  job.OwnerID,
		Status:   job.Status,
		Progress: job.Progress,
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "job:status:"+job.ID, data, statusTTL).Err()
}
