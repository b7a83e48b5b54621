// Package batch runs the profile scraper over many accounts.
//
// Accounts are processed in chunks of Options.ConcurrencyLimit: the
// accounts of a chunk run concurrently and the next chunk starts once every
// account of the current one has a result. Each account is bounded by
// Options.Timeout; a timed out account is cancelled and reported as
//
//	Timeout scraping <username> after <ms>ms
//
// while the runner waits up to Options.CleanupGrace for its browser to be
// released.
//
// A failure never removes an account from the report: Report.Results holds
// one entry per requested username, in input order. The only errors
// returned by ScrapeMultipleAccounts are configuration errors.
//
// Once an account fails to authenticate, the remaining accounts of the same
// call fail with the same message without launching a browser.
package batch
