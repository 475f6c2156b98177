package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kabsmeiou/Pamahres/handlers"
	"github.com/kabsmeiou/Pamahres/internal/auth"
	"github.com/kabsmeiou/Pamahres/internal/cache"
	"github.com/kabsmeiou/Pamahres/internal/clerk"
	"github.com/kabsmeiou/Pamahres/internal/config"
	"github.com/kabsmeiou/Pamahres/internal/database"
	"github.com/kabsmeiou/Pamahres/internal/oidc"
	"github.com/kabsmeiou/Pamahres/internal/users"
	"github.com/kabsmeiou/Pamahres/pkg/logger"
	"github.com/kabsmeiou/Pamahres/pkg/metrics"
	"github.com/kabsmeiou/Pamahres/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// LOG_LEVEL env: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: db=%s redis=%v discovery=%v", cfg.Database.Driver, cfg.Redis.Host != "", cfg.Clerk.JWKSDiscovery)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]handlers.Check{}

	// Shared cache: Redis when configured, process memory otherwise.
	var store cache.Cache
	if addr := cfg.Redis.RedisAddr(); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", addr, err)
		} else {
			logger.Infof("Connected to Redis: %s", addr)
		}
		store = cache.NewRedis(rdb, "")
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		logger.Warnf("REDIS_HOST not set, using in-process cache")
		store = cache.NewMemory()
	}

	httpClient := &http.Client{Timeout: cfg.Clerk.HTTPTimeout}

	jwksURL := clerk.JWKSURL(cfg.Clerk.FrontendAPIURL)
	if cfg.Clerk.JWKSDiscovery {
		issuer := cfg.Clerk.Issuer
		if issuer == "" {
			issuer = cfg.Clerk.FrontendAPIURL
		}
		if u, err := oidc.DiscoverJWKSURL(ctx, issuer, httpClient); err != nil {
			logger.Warnf("JWKS discovery failed, using %s: %v", jwksURL, err)
		} else {
			jwksURL = u
		}
	}
	keys := clerk.NewJWKS(jwksURL, store, httpClient)

	verifier := auth.NewVerifier(keys,
		auth.WithKeySelection(cfg.Clerk.KeySelection),
		auth.WithIssuer(cfg.Clerk.Issuer),
		auth.WithAuthorizedParties(cfg.Clerk.AuthorizedParties...),
		auth.WithLeeway(cfg.Clerk.Leeway),
	)
	clerkClient := clerk.NewClient(cfg.Clerk.APIURL, cfg.Clerk.SecretKey, store,
		clerk.WithHTTPClient(httpClient),
		clerk.WithUserInfoTTL(cfg.Clerk.UserInfoTTL),
		clerk.WithRateLimit(cfg.Clerk.APIRPS, int(cfg.Clerk.APIRPS)+1),
	)

	var repo users.UserRepository
	switch cfg.Database.Driver {
	case "mongo":
		client, err := database.ConnectMongo(ctx, cfg.Database.MongoURI, cfg.Database.Timeout, 5)
		if err != nil {
			logger.Fatalf("could not connect to MongoDB: %v", err)
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		mrepo := users.NewMongoRepository(client.Database(cfg.Database.MongoDatabase))
		if err := mrepo.EnsureIndexes(ctx); err != nil {
			logger.Fatalf("failed to create user indexes: %v", err)
		}
		repo = mrepo
		checks["database"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
	default:
		var db *sql.DB
		db, err = database.OpenSQL(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Timeout)
		if err != nil {
			logger.Fatalf("could not open %s database: %v", cfg.Database.Driver, err)
		}
		defer func() { _ = db.Close() }()
		repo = users.NewSQLRepository(db, cfg.Database.Driver)
		checks["database"] = db.PingContext
	}
	userSvc := users.NewService(repo, clerkClient)
	authn := middleware.NewAuthenticator(verifier, userSvc)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	handlers.NewHealthHandler(checks).Register(r)
	handlers.NewMeHandler(authn).Register(r.Group("/api/v1"))

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("Starting auth service on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
	}
}
