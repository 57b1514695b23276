// Package redis implements the store using Redis for low-latency
// deployments that already run one. Runs are stored as Hashes with two
// Sorted Set indexes: a due set scored by wake time that feeds claims,
// and a running set scored by last heartbeat that feeds the reaper.
// Removing a member from the due set is the claim token, so concurrent
// claimants never take the same run. Ledger records live one-per-field
// in a Hash per run; HSETNX makes the append append-once. Cron entries
// are JSON values with a SETNX token per scheduled tick standing in for
// the compare-and-swap.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
