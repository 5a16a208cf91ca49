package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peerchat/internal/core/services"
	"peerchat/internal/infrastructure/media"
	"peerchat/internal/infrastructure/monitoring"
	"peerchat/internal/infrastructure/socket"
	peerwebrtc "peerchat/internal/infrastructure/webrtc"
	"peerchat/pkg/config"
	"peerchat/pkg/identity"
	"peerchat/pkg/logger"
	"peerchat/pkg/notify"
	"peerchat/pkg/retry"
	"peerchat/pkg/tracing"
	"peerchat/pkg/validation"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load config", "error", err)
	}

	zlog := logger.New(cfg.Logging.Level)
	if cfg.Logging.Format == "console" {
		zlog = logger.NewDevelopment(cfg.Logging.Level)
	}
	defer zlog.Sync()
	log := zlog.Sugar()

	if err := validation.ValidateChannelURL(cfg.Channel.URL); err != nil {
		log.Fatalw("invalid channel url", "error", err)
	}

	self, err := identity.FromToken(cfg.Channel.Token)
	if err != nil {
		log.Fatalw("cannot determine local user", "error", err)
	}
	log.Infow("starting peerchat", "user_id", self.ID, "channel", cfg.Channel.URL)

	tracerCfg := tracing.DefaultConfig()
	tracerCfg.Enabled = cfg.Tracing.Enabled
	tracerCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracerCfg.SampleRate = cfg.Tracing.SampleRate
	tracer, err := tracing.Init(tracerCfg)
	if err != nil {
		log.Fatalw("failed to init tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(ctx)
	}()

	collector := monitoring.NewCollector(prometheus.DefaultRegisterer)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Channel.Token)
	channel := socket.NewClient(socket.Options{
		URL:          cfg.Channel.URL,
		Header:       header,
		PingInterval: cfg.Channel.PingInterval,
		PongTimeout:  cfg.Channel.PongTimeout,
		WriteTimeout: cfg.Channel.WriteTimeout,
		Backoff:      retry.DefaultBackoff(),
	}, log)
	channel.OnReconnect(collector.ChannelReconnected)

	bus := notify.NewBus(log)
	defer bus.Close()

	var webrtcCfg peerwebrtc.Config
	webrtcCfg.ICEServers = cfg.WebRTC.ICEServers
	webrtcCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	webrtcCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	factory := peerwebrtc.NewFactory(webrtcCfg, log)

	opener := media.FileOpener{
		AudioPath: cfg.Media.AudioFile,
		VideoPath: cfg.Media.VideoFile,
	}
	surface := media.NewSurface(opener, nil, log)

	registry := services.NewTypingRegistry(cfg.Chat.TypingWindow)
	defer registry.CancelAll()

	callManager := services.NewCallManager(channel, surface, factory, collector, log)
	callManager.SetNotifier(bus)
	callManager.Register()

	store := services.NewConversationStore(channel, registry, self, cfg.Chat.DeliveryAckDelay, collector, log)
	store.SetNotifier(bus)
	store.Register()

	emitter := services.NewTypingEmitter(channel, registry, self.ID, log)
	defer emitter.StopAll()

	// a dropped channel orphans any in-flight call signaling
	channel.OnDisconnect(callManager.Close)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := channel.Connect(ctx); err != nil {
		log.Fatalw("failed to connect to channel", "error", err)
	}
	defer channel.Close()

	if err := store.RequestConversations(); err != nil {
		log.Warnw("initial conversation fetch failed", "error", err)
	}
	if err := store.RequestContacts(); err != nil {
		log.Warnw("initial contact fetch failed", "error", err)
	}

	var debug *monitoring.DebugServer
	if cfg.Monitoring.Enabled {
		debug = monitoring.NewDebugServer(monitoring.DebugOptions{
			Addr:          cfg.Monitoring.Address,
			Calls:         callManager,
			Conversations: store,
			Metrics:       prometheus.DefaultGatherer,
		}, log)
		debug.AddCheck("channel", func(context.Context) error {
			return channel.Emit("ping", struct{}{})
		}, 2*time.Second)
		debug.Start()
	}

	<-ctx.Done()
	log.Infow("shutting down")

	callManager.Close()
	if debug != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = debug.Shutdown(shutdownCtx)
		cancel()
	}
}
