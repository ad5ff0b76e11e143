package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/totegamma/appforge"
)

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) Publish(ctx context.Context, channel string, event appforge.Event) error {

	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, channel, jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// Realtime forwards events of the applications most recently sent on input
// to output. Each value on input replaces the whole subscription set. It
// returns when ctx is done or input is closed, and never closes output.
func (s *SignalService) Realtime(ctx context.Context, input <-chan []string, output chan<- appforge.Event) {
	pubsub := s.rdb.Subscribe(ctx)
	defer pubsub.Close()

	messages := pubsub.Channel()
	var current []string

	for {
		select {
		case <-ctx.Done():
			return
		case ids, ok := <-input:
			if !ok {
				return
			}
			next := channelsFor(ids)
			if len(current) > 0 {
				if err := pubsub.Unsubscribe(ctx, current...); err != nil {
					log.Warn().Err(err).Str("module", "signal").Msg("unsubscribe failed")
				}
			}
			if len(next) > 0 {
				if err := pubsub.Subscribe(ctx, next...); err != nil {
					log.Warn().Err(err).Str("module", "signal").Msg("subscribe failed")
				}
			}
			current = next
		case msg, ok := <-messages:
			if !ok {
				return
			}
			event, err := decodeEvent(msg.Payload)
			if err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed event")
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

func channelsFor(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	channels := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		channels = append(channels, appforge.EventChannel(id))
	}
	return channels
}

func decodeEvent(payload string) (appforge.Event, error) {
	var event appforge.Event
	err := json.Unmarshal([]byte(payload), &event)
	return event, err
}
