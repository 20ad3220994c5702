package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"yuzu/voicegw/internal/api"
	"yuzu/voicegw/internal/auth"
	"yuzu/voicegw/internal/bus"
	"yuzu/voicegw/internal/collab"
	"yuzu/voicegw/internal/config"
	hc "yuzu/voicegw/internal/health"
	"yuzu/voicegw/internal/ingress"
	"yuzu/voicegw/internal/logging"
	"yuzu/voicegw/internal/router"
	"yuzu/voicegw/internal/session"
	"yuzu/voicegw/internal/store"
	"yuzu/voicegw/internal/transcribe"
	"yuzu/voicegw/internal/upstream"
)

const grpcService = "voicegw.Gateway"

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("config loaded", zap.Stringer("config", cfg))

	ctx := context.Background()

	// The journal is always in memory; modes, settings and messages move to
	// Postgres when DATABASE_URL is set.
	journal := store.NewMemory()
	var (
		modes    collab.ModeResolver     = journal
		settings collab.SettingsProvider = journal
		messages collab.MessageStore     = journal
		db       *store.Postgres
	)
	if cfg.Database.URL != "" {
		db, err = store.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatal("open database", zap.Error(err))
		}
		defer db.Close()
		modes, settings, messages = db, db, db
		log.Info("using postgres store")
	} else {
		log.Warn("DATABASE_URL not set; modes, settings and messages are in-memory only")
	}

	var authn collab.Authenticator
	if cfg.Auth.JWTSecret != "" {
		authn = auth.NewVerifier(cfg.Auth.JWTSecret)
	} else {
		log.Warn("JWT_SECRET not set; all clients are anonymous")
	}
	if cfg.OpenAI.APIKey == "" {
		log.Warn("OPENAI_API_KEY not set; upstream connections will fail")
	}

	tr := transcribe.NewWhisper(cfg.OpenAI.APIKey, transcribe.Options{
		BaseURL:    cfg.OpenAI.BaseURL,
		Model:      cfg.OpenAI.TranscribeModel,
		MaxRetries: 2,
	}, log)

	b := bus.New(log)
	reg := session.NewRegistry()

	mgr := upstream.NewManager(b, upstream.GorillaDialer{
		URL:              cfg.OpenAI.RealtimeURL,
		APIKey:           cfg.OpenAI.APIKey,
		HandshakeTimeout: 10 * time.Second,
	}, upstream.Config{
		APIKey:       cfg.OpenAI.APIKey,
		Model:        cfg.OpenAI.Model,
		Voice:        cfg.OpenAI.Voice,
		Temperature:  cfg.OpenAI.Temperature,
		MaxTokens:    cfg.OpenAI.MaxTokens,
		InputFormat:  cfg.OpenAI.InputFormat,
		OutputFormat: cfg.OpenAI.OutputFormat,
		SampleRate:   cfg.Upstream.SampleRate,
		DialTimeout:  15 * time.Second,
		KeepAlive:    30 * time.Second,
	}, journal, log)

	rt := router.New(b, reg, tr, messages, journal, router.Config{
		OutputFormat: cfg.OpenAI.OutputFormat,
		SampleRate:   cfg.Upstream.SampleRate,
	}, log)

	ing := ingress.New(b, reg, ingress.Deps{
		Auth:        authn,
		Modes:       modes,
		Settings:    settings,
		Transcriber: tr,
		Messages:    messages,
		Journal:     journal,
	}, ingress.Config{
		Voice:              cfg.OpenAI.Voice,
		Model:              cfg.OpenAI.Model,
		Temperature:        cfg.OpenAI.Temperature,
		MaxTokens:          cfg.OpenAI.MaxTokens,
		InputFormat:        cfg.OpenAI.InputFormat,
		InputSampleRate:    cfg.OpenAI.InputSampleRate,
		OutputFormat:       cfg.OpenAI.OutputFormat,
		UpstreamSampleRate: cfg.Upstream.SampleRate,
		VADThreshold:       cfg.VAD.Threshold,
		VADHangover:        time.Duration(cfg.VAD.HangoverMs) * time.Millisecond,
	}, log)
	rt.SetCloser(ing)

	checker := hc.Checker{Config: cfg}
	if db != nil {
		checker.DB = db
	}
	h := api.NewHandlers(reg, mgr, journal, checker.CheckAll)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(log, api.NewRouter(h, ing)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(grpcService, healthpb.HealthCheckResponse_SERVING)
	go func() {
		l, err := net.Listen("tcp", cfg.Server.GRPCHealthAddr)
		if err != nil {
			log.Error("grpc health listen", zap.String("addr", cfg.Server.GRPCHealthAddr), zap.Error(err))
			return
		}
		log.Info("grpc health listening", zap.String("addr", cfg.Server.GRPCHealthAddr))
		if err := gs.Serve(l); err != nil {
			log.Error("grpc health serve", zap.Error(err))
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stopped := make(chan struct{})
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer close(stopped)
		<-sigc
		log.Info("shutdown signal received; draining")
		hs.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		n := ing.CloseAll()
		if err := b.Drain(ctx); err != nil {
			log.Warn("bus drain", zap.Error(err), zap.Int("pending", b.Pending()))
		}
		b.Close()
		mgr.Close()
		ing.Wait()
		rt.Wait()
		gs.GracefulStop()
		log.Info("shutdown complete", zap.Int("sessions_closed", n))
	}()

	log.Info("gateway starting", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
	<-stopped
}

func logMiddleware(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("http", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}
