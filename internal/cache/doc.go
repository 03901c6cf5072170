/*
Package cache provides the multi-tier caching layer of the fastpath data
plane: a bounded in-process L1 tier, a client wrapper over the shared
remote L2 tier, and the composing MultiTierCache that drives promotion
between them.

# Architecture

	┌─────────────────────────────────────────────┐
	│          PerformanceOrchestrator            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│             MultiTierCache                  │  ← This Package
	│  ┌─────────────────────────────────────┐    │
	│  │          L1 MemoryCache             │    │
	│  │   strict LRU, TTL, never suspends   │    │
	│  └─────────────────────────────────────┘    │
	│                     │ promotion             │
	│  ┌─────────────────────────────────────┐    │
	│  │          L2 RemoteCache             │    │
	│  │   shared service, byte payloads,    │    │
	│  │   degrades to miss on failure       │    │
	│  └─────────────────────────────────────┘    │
	└─────────────────────────────────────────────┘

# Promotion

Every L2-served access is recorded in a sliding window (at most one hour).
Once a key accumulates PromotionThreshold in-window accesses it is copied
into L1 with the promotion TTL, bounding L1 usage to demonstrably hot keys.

# Failure model

L1 failures are fatal to the cache. L2 failures never are: reads degrade to
misses, writes become no-ops, and the error count is surfaced through the
performance metrics instead of the request path.

# Metrics

GetPerformanceMetrics returns pre-aggregated counters only, no scans, so
monitoring loops can call it at any frequency. The zero-access hit rate is
1.0 so a freshly started cache does not trip the regression detector.
*/
package cache
