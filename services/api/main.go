package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsvc/internal/auth"
	"github.com/chatsvc/internal/chat"
	"github.com/chatsvc/internal/config"
	"github.com/chatsvc/internal/crypto/envelope"
	"github.com/chatsvc/internal/directory"
	"github.com/chatsvc/internal/handler"
	"github.com/chatsvc/internal/logger"
	"github.com/chatsvc/internal/middleware"
	"github.com/chatsvc/internal/push"
	"github.com/chatsvc/internal/repository"
	"github.com/chatsvc/internal/startup"
	"github.com/chatsvc/internal/storage"
	"github.com/chatsvc/internal/storage/memory"
	"github.com/chatsvc/internal/ws"
	"github.com/chatsvc/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting chat service")
	cfg := config.Load()

	codec, err := envelope.New(cfg.EncryptionSecretKey)
	if err != nil {
		logger.Errorf("transport codec: %v", err)
		os.Exit(1)
	}

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	// Connections do not survive a restart, the durable flag must not either.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := pool.Exec(resetCtx, "UPDATE users SET is_online = false"); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	var presence storage.PresenceStore
	if cfg.Redis.URL != "" {
		presence = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second)
	} else {
		logger.Info("no redis configured, using in-process presence store")
		presence = memory.New()
	}
	defer presence.Close()

	userRepo := repository.NewUserRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	pushRepo := repository.NewPushRepository(pool)

	dir := directory.New(userRepo, presence)
	svc := chat.NewService(chatRepo, msgRepo, dir, dir)

	var verifier auth.Verifier
	if cfg.AuthServiceURL != "" {
		logger.Infof("validating tokens against %s", cfg.AuthServiceURL)
		verifier = auth.NewRemoteVerifier(cfg.AuthServiceURL, codec)
	} else {
		logger.Info("validating tokens locally")
		verifier = auth.NewJWTVerifier(cfg.JWTSecret, dir)
	}

	var sender *push.Sender
	if cfg.PushEnabled {
		keys, err := push.EnsureVAPIDKeys(cfg.VAPIDKeysFile)
		if err != nil {
			logger.Errorf("vapid keys: %v", err)
			os.Exit(1)
		}
		sender = push.NewSender(pushRepo, keys, cfg.PushSubscriber)
		logger.Info("push notifications enabled")
	}
	var notifier ws.PushNotifier
	if sender != nil {
		notifier = sender
	}

	hub := ws.NewHub(svc, dir, notifier, cfg.MaxWSConnections)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	resp := handler.NewResponder(codec)
	chatH := handler.NewChatHandler(svc, hub, resp)
	msgH := handler.NewMessageHandler(svc, hub, resp)
	userH := handler.NewUserHandler(svc, resp)
	pushH := handler.NewPushHandler(sender, resp)
	wsH := handler.NewWSHandler(hub, verifier, dir, cfg.CORSAllowedOrigins)
	healthH := handler.NewHealthHandler(pool)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog)
	r.Use(middleware.Recover(resp))
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthH.Health)
	r.Get("/ws", wsH.ServeWS)
	r.Get("/api/push/config", pushH.Config)

	r.Group(func(r chi.Router) {
		r.Use(middleware.DecryptEnvelope(codec, resp))
		r.Use(middleware.Authenticate(verifier, dir, resp))
		r.Use(middleware.RateLimitUser)
		r.Post("/api/rooms", chatH.CreateRoom)
		r.Get("/api/rooms", chatH.ListRooms)
		r.Get("/api/rooms/user/list", userH.ListUsers)
		r.Get("/api/rooms/{id}", chatH.GetRoom)
		r.Post("/api/rooms/{id}/add-participants", chatH.AddParticipants)
		r.Get("/api/rooms/{id}/messages", msgH.GetMessages)
		r.Post("/api/rooms/{id}/message", msgH.SendMessage)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	files, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".sql") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatsvc"
		password = "chatsvc_secret"
		database = "chatsvc"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
