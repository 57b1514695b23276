package redis

import (
	"fmt"
	"time"
)

// Redis key naming conventions for ratchet data.
// All keys are prefixed with "ratchet:" to avoid collisions.

const keyPrefix = "ratchet:"

// ── Run keys ──

// runKey returns the key for a run entity: ratchet:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIDsKey is the Set tracking all run IDs for enumeration.
const runIDsKey = keyPrefix + "run_ids"

// dueKey is the Sorted Set of sleeping runs, scored by wake time in Unix
// milliseconds. Equal scores fall back to lexicographic member order,
// which is creation order for K-sortable IDs.
const dueKey = keyPrefix + "due"

// runningKey is the Sorted Set of claimed runs, scored by last heartbeat
// in Unix milliseconds. The reaper range-scans it for stale claims.
const runningKey = keyPrefix + "running"

// ── Ledger keys ──

// ledgerKey returns the Hash holding a run's step records, one field per
// step index: ratchet:ledger:{runID}
func ledgerKey(runID string) string { return keyPrefix + "ledger:" + runID }

// ── Cron keys ──

// cronKey returns the key for a cron entry entity: ratchet:cron:{id}
func cronKey(id string) string { return keyPrefix + "cron:" + id }

// cronIDsKey is the Set tracking all cron entry IDs for enumeration.
const cronIDsKey = keyPrefix + "cron_ids"

// cronNamesKey maps cron names to IDs for duplicate detection.
const cronNamesKey = keyPrefix + "cron_names"

// cronFireKey returns the fire-claim token key for one scheduled tick of
// a cron entry: ratchet:cron_fire:{id}:{unixnano}
func cronFireKey(id string, scheduled time.Time) string {
	return fmt.Sprintf("%scron_fire:%s:%d", keyPrefix, id, scheduled.UnixNano())
}
