// Package crawler holds the domain model of the OTA answers crawler.
//
// A crawl moves one platform's seeds through fetch (static or rendered),
// parse, dedup, and upsert. Types here are shared by every stage; stage
// implementations live in sibling packages so each can be tested alone.
package crawler
