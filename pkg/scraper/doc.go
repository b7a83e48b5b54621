// Package scraper scrapes the recent posts of one Instagram profile.
//
// ScrapeProfile owns one browser for the duration of the call:
//
//	launch browser -> log in (retrying transient failures) -> classify the
//	profile and list its post URLs -> extract posts in batches on a page
//	pool -> keep the posts inside the recency window -> close everything
//
// Batches run strictly one after another so the recency window can end the
// crawl early. Every outcome, including panics in the browser layer, is
// returned as an AccountResult; ScrapeProfile never returns an error.
package scraper
