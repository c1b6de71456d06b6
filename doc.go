// Package offlinekit provides a client-resident resource cache and
// offline-synchronization layer that mediates between an application and a
// remote origin.
//
// # Architecture
//
// Every outbound request enters through a strategy router, which classifies
// the request (navigation, image, script/style, API data, cross-origin
// asset) and dispatches it to exactly one fetch strategy. Strategies combine
// a versioned durable cache with live network fetches:
//
//	┌─────────────────────────────────────┐
//	│        Lifecycle Manager            │  install, activate,
//	│ (installing → waiting → active)     │  version migration
//	└─────────────────────────────────────┘
//	           ↓ governs
//	┌─────────────────────────────────────┐
//	│        Strategy Router              │  classify + dispatch
//	│  (cache-first, network-first, ...)  │
//	└─────────────────────────────────────┘
//	       ↓ reads/writes         ↓ fetches
//	┌───────────────────┐   ┌──────────────┐
//	│    Cache Store    │   │    Origin    │
//	│ (versioned, bbolt)│   │  (net/http)  │
//	└───────────────────┘   └──────────────┘
//
// Mutating requests that fail at the network step are queued durably and
// replayed by the sync coordinator when a connectivity signal arrives:
//
//	enqueue on failure → offline queue (bbolt) → sync trigger → replay
//
// # Packages
//
//   - cachestore: versioned durable response cache with atomic writes
//   - strategy: request classification and the fetch strategies
//   - queue: durable offline mutation queue with auto-increment ids
//   - syncer: per-tag drain coordinator with at-least-once replay
//   - lifecycle: install/activate state machine and client claiming
//   - signal: NATS-backed sync triggers and control messages
//   - fetch: the request/response model at the interception boundary
//   - service: wiring and the single request entry point
//
// Ambient infrastructure lives in errors, metric, pkg/retry and pkg/worker.
//
// # Guarantees
//
//   - Navigation requests always resolve to something renderable (live page,
//     cached page, or the offline page), never a raw network error.
//   - Image requests always resolve to something displayable (live image,
//     cached image, or an inline SVG placeholder).
//   - A queued mutation is removed if and only if its replay succeeded:
//     at-least-once delivery, duplicates tolerated, silent loss never.
//   - Only HTTP 200 responses are cache-eligible; error pages are returned
//     to the caller but never stored.
package offlinekit
