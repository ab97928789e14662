// Package pipeline runs one platform's crawl from seeds to persisted articles.
//
// Targets are processed one at a time in seed order. Every request goes
// through the platform's rate-limit controller; each surviving record is
// fingerprinted, upserted by URL and counted in the run summary. Failures
// are contained to the URL or record that produced them.
package pipeline
