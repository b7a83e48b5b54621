package instagram

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"igbatch/pkg/browser"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/logger"
)

// Crawler reads profile pages
type Crawler struct {
	probeTimeout time.Duration
	settleTime   time.Duration
	log          logger.Logger
}

// NewCrawler creates a crawler. probeTimeout bounds the wait for post links
// on a page whose status could not be read at first sight.
func NewCrawler(probeTimeout, settleTime time.Duration, log logger.Logger) *Crawler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Crawler{probeTimeout: probeTimeout, settleTime: settleTime, log: log}
}

// Classify navigates to the profile and reports its accessibility. It must
// run before post links are waited for; on a private or missing profile
// they never appear. The error is non-nil only when the page could not be
// loaded.
func (c *Crawler) Classify(ctx context.Context, page browser.Page, username string) (Status, error) {
	if err := page.Navigate(ctx, ProfileURL(username)); err != nil {
		return StatusUnknown, err
	}
	_ = page.Settle(ctx, c.settleTime)

	status, err := c.read(ctx, page)
	if err != nil || status != StatusUnknown {
		return status, err
	}

	// Posts render late on slow connections; give them one chance
	if err := page.WaitFor(ctx, SelectorPostLink, c.probeTimeout); err != nil && ctx.Err() != nil {
		return StatusUnknown, ctx.Err()
	}
	return c.read(ctx, page)
}

func (c *Crawler) read(ctx context.Context, page browser.Page) (Status, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return StatusUnknown, err
	}
	return ClassifyHTML(html), nil
}

// ListPostURLs returns up to limit post URLs in display order. A profile
// without posts yields an empty list; private, missing and unreadable
// profiles yield a classified error.
func (c *Crawler) ListPostURLs(ctx context.Context, page browser.Page, username string, limit int) ([]string, error) {
	status, err := c.Classify(ctx, page, username)
	if err != nil {
		return nil, err
	}

	log := c.log.WithFields(map[string]interface{}{"username": username, "status": string(status)})
	switch status {
	case StatusAccessible:
	case StatusNoPosts:
		log.Info("Profile has no posts")
		return []string{}, nil
	default:
		log.Info("Profile is not accessible")
		return nil, status.Err(username)
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	urls, err := PostLinks(html, limit)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeExtraction, "failed to read post links", err)
	}
	log.WithField("count", len(urls)).Debug("Found post links")
	return urls, nil
}

// ClassifyHTML decides the status of a rendered profile page
func ClassifyHTML(html string) Status {
	doc, err := parse(html)
	if err != nil {
		return StatusUnknown
	}
	text := strings.ToLower(doc.Find("body").Text())

	switch {
	case strings.Contains(text, strings.ToLower(MarkerNotFound)):
		return StatusNotFound
	case strings.Contains(text, strings.ToLower(MarkerPrivate)):
		return StatusPrivate
	case hasPostLinks(doc):
		return StatusAccessible
	case strings.Contains(text, strings.ToLower(MarkerNoPosts)):
		return StatusNoPosts
	default:
		return StatusUnknown
	}
}

func hasPostLinks(doc *goquery.Document) bool {
	found := false
	doc.Find(SelectorPostLink).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		found = IsPostURL(AbsoluteURL(href))
		return !found
	})
	return found
}

// PostLinks returns up to limit distinct absolute post URLs in page order.
// A non-positive limit returns every link.
func PostLinks(html string, limit int) ([]string, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	urls := []string{}
	doc.Find(SelectorPostLink).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		link := AbsoluteURL(href)
		if link == "" || seen[link] || !IsPostURL(link) {
			return true
		}
		seen[link] = true
		urls = append(urls, link)
		return limit <= 0 || len(urls) < limit
	})
	return urls, nil
}
