// The worker process consumes the job queues, runs the scheduler and serves
// the operational endpoints. Run one or more of these next to the API.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/config"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/errandflow"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/lifecycle"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/matching"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/metrics"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/nlp"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/notify"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/queue"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/similarity"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx := context.Background()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis unavailable at %s: %v", cfg.RedisAddr(), err)
	}

	st, err := store.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatalf("store unavailable: %v", err)
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			log.Printf("store close: %v", err)
		}
	}()

	bootstrapModels(cfg)

	var embedder nlp.Embedder
	if cfg.EmbeddingURL != "" {
		embedder = nlp.NewHTTPEmbedder(cfg.EmbeddingURL, cfg.SentenceTransformerModelName)
	} else {
		log.Printf("EMBEDDING_URL unset, classifier and semantic scoring run degraded")
	}

	semantic := func(ctx context.Context, a, b string) float64 {
		if embedder == nil {
			return 0
		}
		va, err := embedder.Encode(ctx, a)
		if err != nil {
			return 0
		}
		vb, err := embedder.Encode(ctx, b)
		if err != nil {
			return 0
		}
		return similarity.Cosine(va, vb)
	}

	metricSet := metrics.NewSet(prometheus.DefaultRegisterer)
	notifier := notify.NewClient(cfg.NotificationURL, metricSet)

	classifyHandler := nlp.NewClassifyHandler(nlp.NewClassifier(embedder), st)
	engine := matching.NewEngine(st, semantic, int64(cfg.MatchBatchSize), cfg.MinMatchScore)
	populator := errandflow.NewPopulator(st, int64(cfg.MatchBatchSize), cfg.MinMatchScore)
	assigner := errandflow.NewAssigner(st, notifier, int64(cfg.MatchBatchSize), cfg.MinMatchScore)
	window := time.Duration(cfg.AutoCompleteWindowHours) * time.Hour
	cleaner := lifecycle.NewCleaner(st, notifier, window, metricSet)
	autoCompleter := lifecycle.NewAutoCompleter(st, window)

	bridge := queue.NewBridge(queue.Handlers{
		ClassifyResource: classifyHandler.Handle,
		MatchResources: func(ctx context.Context) (int, error) {
			n, err := engine.RunMatchPass(ctx)
			metricSet.MatchesCreated.Add(float64(n))
			return n, err
		},
		Populate: populator.Run,
		Assign: func(ctx context.Context) (int, error) {
			n, err := assigner.Run(ctx)
			metricSet.ErrandsAssigned.Add(float64(n))
			return n, err
		},
		Cleanup: cleaner.Run,
		AutoComplete: func(ctx context.Context) (int, error) {
			n, err := autoCompleter.Run(ctx)
			metricSet.MatchesCompleted.Add(float64(n))
			return n, err
		},
	})

	q := queue.New(queue.NewRedisBroker(redisClient))
	worker := queue.NewWorker(q, bridge, []string{queue.ResourceQueue, queue.AutoCompleteQueue}, metricSet)
	scheduler := queue.NewScheduler(q)

	opsServer := &http.Server{
		Addr:    cfg.OpsListenAddr,
		Handler: metrics.Handler(prometheus.DefaultGatherer),
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ops server: %v", err)
		}
	}()

	worker.Start()
	scheduler.Start()
	log.Printf("worker up: redis=%s db=%s ops=%s", cfg.RedisAddr(), cfg.MongoDBName, cfg.OpsListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("shutting down")
	scheduler.Stop()
	worker.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = opsServer.Shutdown(shutdownCtx)
}

// bootstrapModels makes sure model artifacts are initialized exactly once
// across sibling processes. Holding the lock here stands in for the actual
// download the embedding sidecar performs against the same cache dir.
func bootstrapModels(cfg *config.Config) {
	state, err := nlp.LoadState(cfg.NLPCacheDir)
	if err != nil {
		log.Printf("model state unreadable, reinitializing: %v", err)
	}
	if state.SpacyInitialized && state.TransformerInitialized {
		return
	}

	lock, err := nlp.AcquireBootstrapLock(cfg.NLPCacheDir)
	if errors.Is(err, nlp.ErrLockHeld) {
		log.Printf("model bootstrap in progress in another process, skipping")
		return
	}
	if err != nil {
		log.Printf("model bootstrap lock unavailable: %v", err)
		return
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Printf("release bootstrap lock: %v", err)
		}
	}()

	if err := nlp.SaveState(cfg.NLPCacheDir, nlp.ModelState{
		SpacyInitialized:       true,
		TransformerInitialized: true,
		Timestamp:              time.Now().UTC(),
	}); err != nil {
		log.Printf("persist model state: %v", err)
	}
	log.Printf("model state initialized (spacy=%s, transformer=%s)", cfg.SpacyModelName, cfg.TransformerModelName)
}
