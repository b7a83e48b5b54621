// Package instagram drives Instagram's web pages through a browser.Page.
//
// It covers three steps of a profile scrape:
//   - Authenticator logs a page in, restoring a saved session.Store cookie
//     jar when it still passes the logged-in probe
//   - Crawler classifies a profile (accessible, private, not found, no
//     posts, unknown) before listing its post URLs in display order
//   - Extractor reads one post page into a Post using ranked selector
//     strategies, recording failures in Post.Error instead of returning them
//
// Every selector and text marker lives in selectors.go. The parsing
// helpers (ClassifyHTML, PostLinks, ParsePost) work on plain HTML so they
// can be tested on fixtures.
package instagram
