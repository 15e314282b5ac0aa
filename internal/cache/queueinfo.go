package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/citidesk/pkg/models"
)

const generationKey = "queue:generation"

// QueueInfo caches point queue queries. Entries are keyed by a generation
// number; Invalidate bumps the generation so every older entry is ignored
// and left to expire.
type QueueInfo struct {
	redis *RedisCache
	ttl   time.Duration
}

func NewQueueInfo(rc *RedisCache, ttl time.Duration) *QueueInfo {
	return &QueueInfo{redis: rc, ttl: ttl}
}

// Generation returns the current cache generation. Callers read it before
// computing an answer and write the answer back under the same generation,
// so a result computed across an Invalidate is never served.
func (q *QueueInfo) Generation(ctx context.Context) (int64, error) {
	var gen int64
	if _, err := q.redis.Get(ctx, generationKey, &gen); err != nil {
		return 0, err
	}
	return gen, nil
}

func infoKey(gen, ticketID int64) string {
	return fmt.Sprintf("queue-info:%d:%d", gen, ticketID)
}

func (q *QueueInfo) Get(ctx context.Context, gen, ticketID int64) (*models.QueueInfo, bool, error) {
	var info models.QueueInfo
	found, err := q.redis.Get(ctx, infoKey(gen, ticketID), &info)
	if err != nil || !found {
		return nil, false, err
	}
	return &info, true, nil
}

func (q *QueueInfo) Set(ctx context.Context, gen int64, info *models.QueueInfo) error {
	return q.redis.Set(ctx, infoKey(gen, info.TicketID), info, q.ttl)
}

func (q *QueueInfo) Invalidate(ctx context.Context) error {
	_, err := q.redis.Incr(ctx, generationKey)
	return err
}
