// Package ratelimit paces browser navigations and API requests.
//
// Limits are token buckets from golang.org/x/time/rate. Keyed holds one
// bucket per key, so every login identity shares a single navigation budget
// no matter how many accounts are scraped concurrently.
package ratelimit
