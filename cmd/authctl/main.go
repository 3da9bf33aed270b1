// Command authctl is an interactive client for the auth bridge. It keeps a
// session with the identity provider, mirrors it into a backend profile and
// applies the onboarding gate to the routes you visit.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"github.com/matedash/authbridge/internal/authbridge"
	"github.com/matedash/authbridge/internal/config"
	"github.com/matedash/authbridge/internal/identity"
	"github.com/matedash/authbridge/internal/onboarding"
	"github.com/matedash/authbridge/internal/profileapi"
	"github.com/matedash/authbridge/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	var (
		identityURL = flag.String("identity-url", cfg.Identity.URL, "identity provider base URL")
		apiKey      = flag.String("api-key", cfg.Identity.APIKey, "identity provider public API key")
		backend     = flag.String("backend", "http://localhost:"+cfg.Server.Port, "profile backend base URL")
		redisAddr   = flag.String("redis", "", "keep the session in Redis at host:port instead of memory")
		prefix      = flag.String("session-prefix", "authctl:", "Redis key prefix for the session")
		timeout     = flag.Duration("timeout", 10*time.Second, "HTTP timeout for provider and backend calls")
		resetURL    = flag.String("reset-redirect", "", "link target of password reset emails")
		oauthURL    = flag.String("oauth-redirect", "", "redirect target of social sign-in")
		welcome     = flag.String("welcome", cfg.Onboarding.WelcomeRoute, "onboarding welcome route")
		home        = flag.String("home", cfg.Onboarding.HomeRoute, "route shown after onboarding")
		logLevel    = flag.String("log-level", "warn", "debug|info|warn|error")
	)
	flag.Parse()
	logger.Init(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store identity.Store
	if *redisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Fatalf("redis %s: %v", *redisAddr, err)
		}
		defer func() { _ = rc.Close() }()
		store = identity.NewRedisStore(rc, *prefix)
	}

	client := identity.NewClient(identity.NewAPI(*identityURL, *apiKey, *timeout), store)
	profiles := profileapi.New(*backend, *timeout)
	bridge := authbridge.New(client, profiles, authbridge.Options{
		ResetPasswordRedirect: *resetURL,
		OAuthRedirect:         *oauthURL,
	})
	sh := newShell(os.Stdout, bridge, client)
	sh.gate = onboarding.NewGate(bridge, client, profiles, sh, *welcome, *home)

	if err := bridge.Start(ctx); err != nil {
		logger.Fatalf("start auth bridge: %v", err)
	}
	defer bridge.Close()
	go client.AutoRefresh(ctx, 15*time.Second)

	sh.watch(ctx)
	sh.run(ctx, os.Stdin)
}
