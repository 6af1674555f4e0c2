package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/molly1022/TMS-Dashboard/board-api/api"
	"github.com/molly1022/TMS-Dashboard/domain"
	"github.com/molly1022/TMS-Dashboard/notify"
	"github.com/molly1022/TMS-Dashboard/storage"
)

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Fatalf("invalid %s: %q", name, v)
	}
	return n
}

func envDur(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Fatalf("invalid %s: %q", name, v)
	}
	return d
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.SetFormatter(&log.JSONFormatter{})

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	cfg := storage.Config{
		BoardsTable:      os.Getenv("BOARDS_TABLE"),
		LookupsTable:     os.Getenv("LOOKUPS_TABLE"),
		MembershipsTable: os.Getenv("MEMBERSHIPS_TABLE"),
		UsersTable:       os.Getenv("USERS_TABLE"),
		ActivitiesTable:  os.Getenv("ACTIVITIES_TABLE"),
		ActivityQueue:    os.Getenv("ACTIVITY_QUEUE"),
	}
	if connStr == "" || cfg.BoardsTable == "" || cfg.LookupsTable == "" || cfg.MembershipsTable == "" ||
		cfg.UsersTable == "" || cfg.ActivitiesTable == "" || cfg.ActivityQueue == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := storage.RedisOptions(redisConn)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	boardStore := storage.NewBoardCache(store, rc, envDur("BOARD_CACHE_TTL", 10*time.Minute))
	feed := storage.NewFeedCache(store, rc, envDur("FEED_CACHE_TTL", time.Hour))
	deduper := api.NewRedisDeduper(rc, envDur("DEDUPER_TTL", 24*time.Hour))

	var sender notify.Sender
	if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
		from := os.Getenv("EMAIL_FROM")
		if from == "" {
			log.Fatal("EMAIL_FROM is required with SENDGRID_API_KEY")
		}
		sender = notify.NewSendGridSender(key, from, "Boards")
	} else {
		log.Warn("SENDGRID_API_KEY not set; invitation emails are only logged")
	}
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "http://localhost:3000"
	}

	dispatcher := api.NewDispatcher(api.DispatcherConfig{
		Workers:        envInt("DISPATCH_WORKERS", 8),
		Buffer:         envInt("DISPATCH_BUFFER", 1024),
		Timeout:        envDur("DISPATCH_TIMEOUT", 30*time.Second),
		HandoffTimeout: envDur("DISPATCH_HANDOFF_TIMEOUT", 15*time.Millisecond),
	})
	boards := domain.NewBoardService(boardStore,
		api.NewQueueRecorder(dispatcher, store),
		api.NewAsyncMailer(dispatcher, notify.NewMailer(sender, appURL)))
	dash := domain.NewDashboardService(boards, feed)

	var jwks *keyfunc.JWKS
	var audience, issuer string
	if os.Getenv("AUTH0_TEST_MODE") != "1" && os.Getenv("LOCAL_AUTH_MODE") == "" {
		audience = os.Getenv("AUTH0_AUDIENCE")
		authDomain := os.Getenv("AUTH0_DOMAIN")
		if audience == "" || authDomain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwks, err = keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain), keyfunc.Options{
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				log.WithError(err).Error("jwks refresh failed")
			},
		})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		issuer = "https://" + authDomain + "/"
	}
	auth, err := api.NewAuth(jwks, audience, issuer)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())))
	otel.SetTracerProvider(tp)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderIdempotencyKey},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(echoprometheus.NewMiddleware("board_api"))
	e.GET("/metrics", echoprometheus.NewHandler())
	api.Register(e, boards, dash, auth, deduper, log.StandardLogger())

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	dispatcher.Close()
	if err := tp.Shutdown(ctx); err != nil {
		log.WithError(err).Error("tracer shutdown")
	}
}
