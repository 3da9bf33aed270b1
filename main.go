package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/matedash/authbridge/handlers"
	"github.com/matedash/authbridge/internal/cache"
	"github.com/matedash/authbridge/internal/config"
	"github.com/matedash/authbridge/internal/database"
	"github.com/matedash/authbridge/internal/identity"
	"github.com/matedash/authbridge/internal/oidc"
	"github.com/matedash/authbridge/internal/profiles"
	"github.com/matedash/authbridge/internal/storage"
	"github.com/matedash/authbridge/pkg/logger"
	"github.com/matedash/authbridge/pkg/metrics"
	"github.com/matedash/authbridge/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: identity=%v mongo=%v redis=%v minio=%v",
		cfg.Identity.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.MinIO.Endpoint != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(cors(), gin.Logger(), middleware.Recovery(), middleware.ErrorHandler(cfg.Server.IsProduction()))

	// Redis backs the rate limiter, the sign-in throttle and the token blacklist.
	var rc *redis.Client
	if cfg.Redis.Host != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", cfg.Redis.Addr(), err)
			_ = rc.Close()
			rc = nil
		} else {
			logger.Infof("connected to Redis: %s", cfg.Redis.Addr())
			defer func() { _ = rc.Close() }()
		}
	}

	var (
		blacklist *cache.Blacklist
		attempts  handlers.AttemptCounter
	)
	if rc != nil {
		blacklist = cache.NewBlacklist(rc)
		attempts = cache.NewCounter(rc, "attempts:")
	} else {
		logger.Warn("Redis unavailable: sign-out cannot revoke tokens and sign-in attempts are not throttled")
	}

	// per-user when authenticated, otherwise per-IP
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rc != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(cache.NewCounter(rc, "ratelimit:"), cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	idp := identity.NewAPI(cfg.Identity.URL, cfg.Identity.APIKey, cfg.Identity.Timeout)
	verifier := newVerifier(ctx, cfg, idp)

	// profiles: MongoDB when configured, memory otherwise
	var repo profiles.Repository
	mongoUp := false
	if cfg.MongoDB.URI != "" {
		client, err := database.ConnectWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			logger.Errorf("could not connect to MongoDB, falling back to memory: %v", err)
		} else {
			defer func() { _ = client.Disconnect(context.Background()) }()
			mr := profiles.NewMongoRepository(client.Database(cfg.MongoDB.Database).Collection(database.ProfilesCollection))
			if err := mr.EnsureIndexes(ctx); err != nil {
				logger.Warnf("profile index creation failed: %v", err)
			}
			repo, mongoUp = mr, true
		}
	}
	if repo == nil {
		repo = profiles.NewMemoryRepository()
	}
	profileSvc := profiles.NewService(repo)

	var avatars *storage.MinIOStorage
	if cfg.MinIO.Endpoint != "" {
		avatars, err = storage.NewMinIOStorage(ctx, cfg.MinIO)
		if err != nil {
			logger.Warnf("profile picture storage unavailable: %v", err)
			avatars = nil
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "uptime": time.Since(startTime).String()})
	})
	r.GET("/ready", func(c *gin.Context) {
		deps := map[string]bool{
			"verifier": verifier != nil,
			"identity": idp.Configured(),
			"mongo":    mongoUp || cfg.MongoDB.URI == "",
			"redis":    rc != nil || cfg.Redis.Host == "",
			"storage":  avatars != nil || cfg.MinIO.Endpoint == "",
		}
		if rc != nil {
			deps["redis"] = rc.Ping(c.Request.Context()).Err() == nil
		}
		if avatars != nil {
			deps["storage"] = avatars.Ping(c.Request.Context()) == nil
		}
		status, code := "ready", http.StatusOK
		if !deps["verifier"] || !deps["mongo"] || !deps["redis"] {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	api := r.Group("/api/auth")
	if verifier != nil {
		auth := middleware.AuthMiddleware(verifier, blacklist)
		var pics storage.Avatars
		if avatars != nil {
			pics = avatars
		}
		handlers.NewProfileHandler(profileSvc, pics).Register(api, auth)
		handlers.NewAuthHandler(idp, attempts, blacklist, handlers.AuthOptions{
			MaxAttempts:   cfg.RateLimit.SignInAttempts,
			AttemptWindow: cfg.RateLimit.SignInWindow,
		}).Register(api, auth)
	} else {
		logger.Errorf("no token verifier: set IDENTITY_OIDC_ISSUER, IDENTITY_URL or ALLOW_INSECURE_TOKEN; /api/auth is disabled")
	}
	handlers.RegisterSwagger(r)

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
		logger.Infof("starting authbridge on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
	}
}

// newVerifier picks the bearer token verifier: the provider's OIDC discovery
// document when an issuer is set, the unsigned-token verifier in insecure
// mode, and otherwise introspection through the provider's user endpoint.
func newVerifier(ctx context.Context, cfg *config.Config, idp *identity.API) middleware.Verifier {
	if cfg.Identity.OIDCIssuer != "" {
		ver, err := oidc.NewVerifier(ctx, cfg.Identity.OIDCIssuer, cfg.Identity.OIDCClientID)
		if err == nil {
			return ver
		}
		logger.Warnf("failed to initialize OIDC verifier: %v", err)
	}
	if cfg.Identity.AllowInsecure {
		logger.Warn("enabling insecure token verifier (integration mode)")
		return oidc.NewInsecureVerifier()
	}
	if idp.Configured() {
		return oidc.NewIntrospectionVerifier(idp)
	}
	return nil
}

// cors sets permissive headers and answers preflight requests.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		h.Set("Access-Control-Expose-Headers", "Content-Length, Retry-After")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
