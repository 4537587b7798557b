// Package redis implements store.Store using Redis for high-throughput
// ephemeral workloads. Queues use Sorted Sets ordered by priority and due
// time, entities are stored as JSON values, and the operations that must
// be atomic (idempotent admission, dequeue claims, version compare-and-swap,
// replay swaps) run as server-side Lua scripts.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
