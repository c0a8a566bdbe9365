package main

import (
	"context"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/go-go-golems/chat2k/pkg/auth"
	"github.com/go-go-golems/chat2k/pkg/chat"
	"github.com/go-go-golems/chat2k/pkg/config"
	"github.com/go-go-golems/chat2k/pkg/logging"
	"github.com/go-go-golems/chat2k/pkg/metrics"
	"github.com/go-go-golems/chat2k/pkg/persistence/chatstore"
	"github.com/go-go-golems/chat2k/pkg/redisstream"
	"github.com/go-go-golems/chat2k/pkg/webchat"
)

func newServeCommand(a *app) *cobra.Command {
	d := config.Default()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the websocket chat, the account API and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyServeFlags(cmd, &a.settings); err != nil {
				return err
			}
			if err := a.settings.Validate(); err != nil {
				return errors.Wrap(err, "invalid settings")
			}
			return runServe(cmd.Context(), a.settings)
		},
	}
	f := cmd.Flags()
	f.String("addr", d.Addr, "HTTP listen address")
	f.Int("history-limit", d.Chat.HistoryLimit, "Messages sent to a new connection")
	f.Duration("presence-interval", d.Chat.PresenceInterval, "How often each connection receives the online list")
	f.Duration("op-timeout", d.Store.OpTimeout, "Bound on every store call")
	f.Int("send-buffer", d.Chat.SendBuffer, "Outbound frames buffered per connection before it is dropped")
	f.Duration("write-timeout", d.Chat.WriteTimeout, "Websocket write deadline")
	f.Int("max-message-length", d.Chat.MaxMessageLength, "Longest accepted message in characters")
	f.Float64("rate-limit", d.Chat.RateLimit, "Messages per second per connection (0 disables)")
	f.Int("rate-burst", d.Chat.RateBurst, "Message burst per connection")
	f.Bool("mirror", d.Mirror.Enabled, "Mirror published messages to a watermill topic")
	f.String("mirror-topic", d.Mirror.Topic, "Mirror topic")
	f.Bool("redis-enabled", d.Redis.Enabled, "Carry the mirror over Redis Streams instead of in-process")
	return cmd
}

func applyServeFlags(cmd *cobra.Command, s *config.Settings) error {
	fl := flagReader{f: cmd.Flags()}
	fl.str("addr", &s.Addr)
	fl.integer("history-limit", &s.Chat.HistoryLimit)
	fl.duration("presence-interval", &s.Chat.PresenceInterval)
	fl.duration("op-timeout", &s.Store.OpTimeout)
	fl.integer("send-buffer", &s.Chat.SendBuffer)
	fl.duration("write-timeout", &s.Chat.WriteTimeout)
	fl.integer("max-message-length", &s.Chat.MaxMessageLength)
	fl.float("rate-limit", &s.Chat.RateLimit)
	fl.integer("rate-burst", &s.Chat.RateBurst)
	fl.boolean("mirror", &s.Mirror.Enabled)
	fl.str("mirror-topic", &s.Mirror.Topic)
	fl.boolean("redis-enabled", &s.Redis.Enabled)
	return errors.Wrap(fl.err, "read serve flags")
}

func sessionOptions(s config.Settings) webchat.SessionOptions {
	return webchat.SessionOptions{
		HistoryLimit:     s.Chat.HistoryLimit,
		PresenceInterval: s.Chat.PresenceInterval,
		SendBuffer:       s.Chat.SendBuffer,
		WriteTimeout:     s.Chat.WriteTimeout,
		MaxMessageLength: s.Chat.MaxMessageLength,
		RateLimit:        rate.Limit(s.Chat.RateLimit),
		RateBurst:        s.Chat.RateBurst,
	}
}

// mirrorTransport returns the publisher and subscriber the mirror runs on.
func mirrorTransport(ctx context.Context, s config.Settings) (message.Publisher, message.Subscriber, func() error, error) {
	if s.Redis.Enabled {
		if err := redisstream.EnsureGroupAtTail(ctx, s.Redis, s.Mirror.Topic); err != nil {
			return nil, nil, nil, err
		}
		pub, sub, err := redisstream.Build(s.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		closeBoth := func() error {
			perr := pub.Close()
			if serr := sub.Close(); serr != nil && perr == nil {
				perr = serr
			}
			return perr
		}
		return pub, sub, closeBoth, nil
	}
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logging.NewWatermill(log.Logger))
	return ps, ps, ps.Close, nil
}

func runServe(ctx context.Context, s config.Settings) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	backend, err := openBackend(ctx, s)
	if err != nil {
		return errors.Wrap(err, "open message store")
	}
	store, err := chatstore.NewAdapter(backend,
		chatstore.WithOpTimeout(s.Store.OpTimeout),
		chatstore.WithRetryObserver(collector),
	)
	if err != nil {
		_ = backend.Close()
		return err
	}

	dsn, err := usersDSN(s)
	if err != nil {
		_ = store.Close()
		return err
	}
	accounts, err := auth.NewSQLiteUserStore(dsn)
	if err != nil {
		_ = store.Close()
		return errors.Wrap(err, "open user store")
	}

	bopts := []chat.BroadcasterOption{chat.WithPublishObserver(collector)}
	var (
		sub         message.Subscriber
		closeMirror func() error
	)
	if s.Mirror.Enabled {
		var pub message.Publisher
		pub, sub, closeMirror, err = mirrorTransport(ctx, s)
		if err != nil {
			_ = accounts.Close()
			_ = store.Close()
			return errors.Wrap(err, "build mirror transport")
		}
		m, err := chat.NewWatermillMirror(pub, s.Mirror.Topic)
		if err != nil {
			_ = closeMirror()
			_ = accounts.Close()
			_ = store.Close()
			return err
		}
		bopts = append(bopts, chat.WithMirror(m))
	}

	sv, err := webchat.NewSupervisor(webchat.SupervisorConfig{
		Store:              store,
		Identities:         accounts,
		Metrics:            collector,
		BroadcasterOptions: bopts,
		Session:            sessionOptions(s),
	})
	if err != nil {
		if closeMirror != nil {
			_ = closeMirror()
		}
		_ = accounts.Close()
		_ = store.Close()
		return err
	}

	handler := webchat.NewRouter(webchat.RouteDeps{
		Supervisor: sv,
		Accounts:   accounts,
		Metrics:    metrics.Handler(reg),
		Upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	})
	srv := webchat.NewServer(s.Addr, handler, sv)

	if sub != nil {
		topic := s.Mirror.Topic
		logMirrored := s.Mirror.Log
		srv.Go(func(ctx context.Context) error {
			return chat.ConsumeMirror(ctx, sub, topic, func(m chat.Message) {
				collector.MirrorConsumed()
				if logMirrored {
					chat.LogMirrored(m)
				}
			})
		})
		srv.OnShutdown("mirror", closeMirror)
	}
	srv.OnShutdown("message store", store.Close)
	srv.OnShutdown("user store", accounts.Close)

	log.Info().
		Str("store", s.Store.Backend).
		Bool("mirror", s.Mirror.Enabled).
		Bool("redis_streams", s.Redis.Enabled).
		Int("history_limit", s.Chat.HistoryLimit).
		Msg("chat2k configured")
	return srv.Run(ctx)
}
