// Package queue defines the queue abstraction with priority ordering
// and per-queue / per-actor rate limiting.
//
// Queues are named channels that group related commands. Commands carry a
// Queue field that determines which queue they belong to. The worker pool
// polls the queues it is configured with (default: ["default"]).
//
// # Per-Queue Configuration
//
// Use [Config] to set per-queue rate limits and concurrency caps:
//
//	queue.Config{
//	    Name:           "email",
//	    MaxConcurrency: 5,      // max 5 concurrent email commands
//	    RateLimit:      10,     // max 10 commands/s dequeued from this queue
//	    RateBurst:      20,     // allow bursts up to 20
//	}
//
// # Manager
//
// [Manager] enforces per-queue and per-actor limits at dequeue time.
// It uses a token-bucket rate limiter (golang.org/x/time/rate) and an
// active-count gate for concurrency limits.
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(queueName, actor) {
//	    defer m.Release(queueName, actor)
//	    // execute the command
//	}
//
// Queues without a [Config] have no limits beyond the pool-wide
// concurrency.
package queue
