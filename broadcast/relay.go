package broadcast

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

type envelope struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

// Relay shares events between API instances over a Redis channel. Local
// sessions are served directly; events from other instances arrive through Run.
type Relay struct {
	rc         *redis.Client
	channel    string
	hub        *Hub
	origin     string
	logger     *log.Logger
	retryDelay time.Duration
}

// NewRelay creates a relay publishing on channel and delivering into hub.
func NewRelay(rc *redis.Client, channel string, hub *Hub, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Relay{
		rc:         rc,
		channel:    channel,
		hub:        hub,
		origin:     uuid.NewString(),
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Publish delivers ev locally and forwards it to the other instances.
func (r *Relay) Publish(ctx context.Context, ev domain.Event) error {
	if err := r.hub.Publish(ctx, ev); err != nil {
		return err
	}
	data, err := sonic.Marshal(envelope{Origin: r.origin, Event: ev})
	if err != nil {
		return err
	}
	return r.rc.Publish(ctx, r.channel, data).Err()
}

// Run consumes events published by other instances until ctx is done,
// resubscribing whenever the subscription drops.
func (r *Relay) Run(ctx context.Context) {
	for {
		r.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.retryDelay):
		}
	}
}

func (r *Relay) consume(ctx context.Context) {
	sub := r.rc.Subscribe(ctx, r.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := sonic.UnmarshalString(msg.Payload, &env); err != nil {
				r.logger.WithError(err).Error("unable to parse board event")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			_ = r.hub.Publish(ctx, env.Event)
		}
	}
}
