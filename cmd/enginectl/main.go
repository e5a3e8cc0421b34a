// enginectl enqueues engine jobs by hand: the on-demand goods-match pass,
// a one-off classification, or any of the periodic jobs outside their
// schedule.
//
//	enginectl -job matchResources
//	enginectl -job classifyResource -resource 66b1f0c2a3d4e5f6a7b8c9d0
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/config"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/queue"
)

func main() {
	jobName := flag.String("job", "", "job to enqueue (classifyResource, matchResources, populatePotentialMatches, assignErrand, cleanupTimedOutMatches, auto_complete_match_job)")
	resourceID := flag.String("resource", "", "resource id for classifyResource")
	flag.Parse()

	if *jobName == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis unavailable at %s: %v", cfg.RedisAddr(), err)
	}
	q := queue.New(queue.NewRedisBroker(redisClient))

	var (
		queueName = queue.ResourceQueue
		data      interface{}
	)
	switch *jobName {
	case queue.JobClassifyResource:
		if *resourceID == "" {
			log.Fatalf("classifyResource requires -resource")
		}
		data = map[string]string{"resourceId": *resourceID}
	case queue.JobMatchResources, queue.JobPopulatePotentialMatches,
		queue.JobAssignErrand, queue.JobCleanupTimedOutMatches:
	case queue.JobAutoCompleteMatch:
		queueName = queue.AutoCompleteQueue
	default:
		log.Fatalf("unknown job %q", *jobName)
	}

	id, err := q.Enqueue(ctx, queueName, *jobName, data, queue.EnqueueOptions{})
	if err != nil {
		log.Fatalf("enqueue failed: %v", err)
	}
	fmt.Printf("enqueued %s on %s as job %s\n", *jobName, queueName, id)
}
