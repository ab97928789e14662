// Package main hosts the otacrawler entrypoint.
//
// Architecture overview:
//   - Pipeline: internal/pipeline drives one platform crawl at a time. Seeds are expanded (feeds become URL seeds),
//     listing pages are followed up to parser.max_pages, and every request goes through the platform's rate-limit
//     controller, which spaces requests, enforces the hourly cap, and backs off on HTTP 429.
//   - Fetch: static pages use the Colly fetcher; pages that arrive as script shells are promoted to the chromedp
//     fetcher when headless.enabled and headless.promote_static are set.
//   - Parse: internal/sources holds one parser per platform. Parsers never fail a run; a page that yields nothing is
//     counted as skipped and, when archive.driver is set, its body is archived for later selector fixes.
//   - Dedup & persist: answers are fingerprinted (SHA-256 over normalized text). A fingerprint already owned by
//     another URL marks the record as a duplicate; records are upserted by URL into the configured store
//     (sqlite, postgres, mongo, or memory). An optional Redis cache shares fingerprints between processes.
//   - Ops: `otacrawler serve` exposes /healthz, /readyz, /metrics, and the /v1 crawl API. Submitted crawls are queued
//     and executed sequentially by the dispatcher; run records live in the run store.
//
// Quick checklist:
//   - Configure with a YAML file (--config) and/or OTA_* env vars, e.g. OTA_STORE_DRIVER=postgres,
//     OTA_STORE_DSN=..., OTA_DEDUP_REDIS_ADDR=localhost:6379, OTA_PUBLISHER_DRIVER=nats.
//   - Crawl once: otacrawler crawl --platform airbnb --url https://www.airbnb.com/help/article/2908
//   - Crawl the manifest: otacrawler crawl --all --seeds seeds.yaml
//   - Serve: otacrawler serve (listens on server.port, or PORT when set) and drains on SIGTERM.
package main
