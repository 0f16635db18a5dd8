// Package domain models crowd-sourced and sensor-derived whale sighting data.
//
// # Data Sources
//
// Sightings arrive from heterogeneous feeds: hydrophone detection networks,
// citizen-science report forms, ferry and whale-watch operator logs, and
// research survey exports. An upstream collector normalizes transport
// concerns only; payload shapes still differ per feed (field aliases, numbers
// encoded as strings, missing coordinates), which is why [ParseRawRecord]
// coerces instead of validating strictly. A record needs only a source and a
// resolvable timestamp; every other field degrades to a documented default.
//
// # ID Generation
//
// Document keys are either the source's own identifier sanitized to
// [A-Za-z0-9_-], or a deterministic SHA-256 hash of
// timestamp|lat|lng|label|source. Deterministic keys make re-triggered
// imports idempotent: replaying a batch upserts the same documents instead of
// duplicating them. See [ResolveDedupKey].
//
// # Spatial-Temporal Indexing
//
// Geo buckets are 0.01-degree grid cells (~1.1 km at these latitudes),
// encoded as "floor(lat*100)_floor(lng*100)". The flat grid is intentionally
// crude: it serves range scans and hotspot heatmaps, not geodesy.
//
// Time slots split the day at fixed local-hour boundaries:
//
//	[5,9) dawn | [9,12) morning | [12,17) afternoon | [17,20) dusk | else night
//
// Behavior categories are keyword-matched from free text ("forag"/"feed" →
// feeding, and so on); confidence levels bucket the [0,1] confidence at
// 0.8/0.6/0.4.
//
// # Materialized Map Cache
//
// [BuildSnapshot] recomputes the whole read-optimized snapshot — hotspots,
// bounds, hourly and weekly histograms, per-source stats, recent activity —
// from the full store contents after every sync. The snapshot is replaced
// atomically and versioned; it is never patched incrementally.
package domain
