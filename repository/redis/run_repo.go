package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/repository"
)

// releaseScript deletes the lock only when it is still held by the caller.
var releaseScript = redislib.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type runRepository struct {
	client     *redislib.Client
	prefix     string
	lockPrefix string
	retention  time.Duration
}

// NewRunRepository creates a Redis-backed run store. Summaries expire after retention.
func NewRunRepository(client *redislib.Client, retention time.Duration) repository.RunRepository {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &runRepository{
		client:     client,
		prefix:     "run:",
		lockPrefix: "lock:run:",
		retention:  retention,
	}
}

func (r *runRepository) Save(ctx context.Context, summary *domain.RunSummary) error {
	if summary == nil || summary.ID == "" {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(summary.ID), payload, r.retention).Err()
}

func (r *runRepository) Get(ctx context.Context, id string) (*domain.RunSummary, error) {
	result, err := r.client.Get(ctx, r.key(id)).Result()
	if err != nil {
		if err == redislib.Nil {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}

	var summary domain.RunSummary
	if err := json.Unmarshal([]byte(result), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (r *runRepository) Acquire(ctx context.Context, mode domain.Mode, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	ok, err := r.client.SetNX(ctx, r.lockKey(mode), owner, ttl).Result()
	if err != nil {
		return domain.WrapError(domain.ErrCodeUnavailable, "acquire run lock", err)
	}
	if !ok {
		return domain.ErrRunInProgress
	}
	return nil
}

func (r *runRepository) Release(ctx context.Context, mode domain.Mode, owner string) error {
	return releaseScript.Run(ctx, r.client, []string{r.lockKey(mode)}, owner).Err()
}

func (r *runRepository) key(id string) string {
	return fmt.Sprintf("%s%s", r.prefix, id)
}

func (r *runRepository) lockKey(mode domain.Mode) string {
	return fmt.Sprintf("%s%s", r.lockPrefix, mode)
}
