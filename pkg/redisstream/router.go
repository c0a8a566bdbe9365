package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat2k/pkg/logging"
)

// Build returns a publisher and a consumer-group subscriber sharing one
// client. The caller closes both.
func Build(s Settings) (message.Publisher, message.Subscriber, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	if !s.Enabled {
		return nil, nil, errors.New("redisstream: not enabled")
	}
	client := redis.NewClient(s.RedisOptions())
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	logger := logging.NewWatermill(log.Logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "redisstream: publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, nil, errors.Wrap(err, "redisstream: subscriber")
	}
	return pub, sub, nil
}

// EnsureGroupAtTail creates the consumer group for stream at the tail ($)
// unless it exists, so a first subscribe does not replay old messages.
func EnsureGroupAtTail(ctx context.Context, s Settings, stream string) error {
	client := redis.NewClient(s.RedisOptions())
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, s.Group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "redisstream: create group %s on %s", s.Group, stream)
	}
	log.Info().Str("stream", stream).Str("group", s.Group).Msg("created redis consumer group at $ (tail)")
	return nil
}
