package coordinator

import (
	"context"
	"encoding/json"

	"content-refinery/internal/entity"
	"content-refinery/pkg/common"
	"content-refinery/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Broadcaster publishes persisted signals to a Redis stream for
// optional subscribers (dashboard, knowledge bridge). Failures are
// logged and never affect the pipeline.
type Broadcaster struct {
	client       *redis.Client
	logger       *logger.Logger
	streamMaxLen int64
}

// NewBroadcaster creates the broadcast sink. A nil client disables
// broadcasting.
func NewBroadcaster(client *redis.Client, log *logger.Logger, streamMaxLen int64) *Broadcaster {
	return &Broadcaster{client: client, logger: log, streamMaxLen: streamMaxLen}
}

// Route publishes one signal.
func (b *Broadcaster) Route(ctx context.Context, signal *entity.Signal) {
	if b.client == nil {
		return
	}

	payload, err := json.Marshal(signal)
	if err != nil {
		b.logger.Error("Failed to marshal signal for broadcast", logger.ErrorField(err))
		return
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: common.RedisStreamSignalBroadcast,
		Values: map[string]interface{}{"payload": payload},
		MaxLen: b.streamMaxLen,
		Approx: true,
	}).Err()
	if err != nil {
		b.logger.Error("Failed to broadcast signal", logger.ErrorField(err), logger.StringField("signal_id", signal.ID))
	}
}
