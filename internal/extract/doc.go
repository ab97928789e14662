// Package extract holds the HTML and text helpers shared by every source
// parser: selector fallback chains, sanitization, soft-404 detection,
// keyword relevance, and readability as a last resort.
package extract
