package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/molly1022/TMS-Dashboard/storage"
)

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
	log.Info("Activity Updater Service starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	cfg := storage.Config{
		ActivitiesTable: os.Getenv("ACTIVITIES_TABLE"),
		ActivityQueue:   os.Getenv("ACTIVITY_QUEUE"),
	}
	if connStr == "" || cfg.ActivitiesTable == "" || cfg.ActivityQueue == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	proc := &processor{feed: store}
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		opts, err := storage.RedisOptions(redisConn)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		proc.cache = storage.NewFeedCache(store, rc, envDur("FEED_CACHE_TTL", time.Hour))
		proc.redis = rc
		proc.channel = os.Getenv("ACTIVITY_CHANNEL")
	} else {
		log.Warn("REDIS_CONNECTION_STRING not set; feed cache is not refreshed")
	}

	maxDequeue, err := strconv.ParseInt(os.Getenv("MAX_DEQUEUE_COUNT"), 10, 64)
	if err != nil {
		maxDequeue = 5
	}
	c := &consumer{
		queue:      store,
		proc:       proc,
		backoff:    backoff{min: envDur("POLL_MIN_INTERVAL", 500*time.Millisecond), max: envDur("POLL_MAX_INTERVAL", 30*time.Second)},
		maxDequeue: maxDequeue,
		sleep:      sleepCtx,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	c.run(ctx)
	log.Info("Activity Updater Service stopped")
}
