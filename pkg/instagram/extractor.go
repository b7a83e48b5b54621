package instagram

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"igbatch/pkg/browser"
	"igbatch/pkg/logger"
)

// Extractor reads post pages into Post records
type Extractor struct {
	navigationTimeout time.Duration
	settleTime        time.Duration
	log               logger.Logger
	now               func() time.Time
}

// NewExtractor creates an extractor. A zero navigationTimeout leaves the
// navigation bounded by the caller's context only.
func NewExtractor(navigationTimeout, settleTime time.Duration, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Extractor{
		navigationTimeout: navigationTimeout,
		settleTime:        settleTime,
		log:               log,
		now:               time.Now,
	}
}

// Extract visits postURL and reads its fields. It never fails: problems are
// recorded in Post.Error next to placeholder values.
func (e *Extractor) Extract(ctx context.Context, page browser.Page, postURL string) Post {
	html, err := e.load(ctx, page, postURL)
	if err != nil {
		e.log.WithError(err).WithField("url", postURL).Warn("Post extraction failed")
		return Post{
			URL:           postURL,
			Date:          e.now().UTC(),
			DateEstimated: true,
			Caption:       NoCaption,
			VideoID:       videoIDPtr(postURL),
			Error:         err.Error(),
		}
	}
	return ParsePost(html, postURL, e.now())
}

func (e *Extractor) load(ctx context.Context, page browser.Page, postURL string) (string, error) {
	// Pacing waits under ctx; the navigation timeout covers the page load only
	if err := browser.Pace(ctx, page); err != nil {
		return "", err
	}
	navCtx := ctx
	if e.navigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, e.navigationTimeout)
		defer cancel()
	}
	if err := page.Navigate(navCtx, postURL); err != nil {
		return "", err
	}
	_ = page.Settle(ctx, e.settleTime)
	return page.HTML(ctx)
}

// ParsePost applies the extraction strategies to a rendered post page.
// now stands in for a missing timestamp.
func ParsePost(html, postURL string, now time.Time) Post {
	post := Post{URL: postURL, VideoID: videoIDPtr(postURL)}

	doc, err := parse(html)
	if err != nil {
		post.Date = now.UTC()
		post.DateEstimated = true
		post.Caption = NoCaption
		post.Error = err.Error()
		return post
	}

	if date, ok := firstDate(doc); ok {
		post.Date = date.UTC()
	} else {
		post.Date = now.UTC()
		post.DateEstimated = true
	}
	post.Caption = firstCaption(doc)
	post.ImageURL = strPtr(firstImage(doc))
	return post
}

func videoIDPtr(postURL string) *string {
	if id, ok := VideoID(postURL); ok {
		return &id
	}
	return nil
}

type dateStrategy func(doc *goquery.Document) (time.Time, bool)

var dateStrategies = []dateStrategy{
	timeElement(SelectorArticleTime),
	timeElement(SelectorAnyTime),
	ldJSONDate,
}

func firstDate(doc *goquery.Document) (time.Time, bool) {
	for _, strategy := range dateStrategies {
		if t, ok := strategy(doc); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func timeElement(selector string) dateStrategy {
	return func(doc *goquery.Document) (time.Time, bool) {
		var found time.Time
		ok := false
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			value, _ := s.Attr("datetime")
			found, ok = parseTimestamp(value)
			return !ok
		})
		return found, ok
	}
}

func ldJSONDate(doc *goquery.Document) (time.Time, bool) {
	var found time.Time
	ok := false
	doc.Find(SelectorLDJSON).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw interface{}
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		found, ok = findUploadDate(raw)
		return !ok
	})
	return found, ok
}

func findUploadDate(v interface{}) (time.Time, bool) {
	switch node := v.(type) {
	case map[string]interface{}:
		for _, key := range []string{"uploadDate", "dateCreated", "datePublished"} {
			if s, isString := node[key].(string); isString {
				if t, ok := parseTimestamp(s); ok {
					return t, true
				}
			}
		}
		if graph, ok := node["@graph"]; ok {
			return findUploadDate(graph)
		}
	case []interface{}:
		for _, item := range node {
			if t, ok := findUploadDate(item); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstCaption(doc *goquery.Document) string {
	for _, selector := range captionSelectors {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	if desc, ok := doc.Find(SelectorOGDescription).First().Attr("content"); ok {
		if desc = strings.TrimSpace(desc); desc != "" {
			return desc
		}
	}
	return NoCaption
}

func firstImage(doc *goquery.Document) string {
	if src, ok := doc.Find(SelectorOGImage).First().Attr("content"); ok && strings.TrimSpace(src) != "" {
		return strings.TrimSpace(src)
	}
	if src, ok := doc.Find(SelectorArticleImage).First().Attr("src"); ok && src != "" {
		return src
	}
	return largestImage(doc)
}

// largestImage picks the inline image with the biggest declared area,
// skipping profile pictures and anything under minImageSide on a side.
func largestImage(doc *goquery.Document) string {
	best, bestArea := "", -1
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		alt, _ := s.Attr("alt")
		if src == "" || strings.Contains(strings.ToLower(alt), "profile picture") {
			return
		}
		w, hasW := intAttr(s, "width")
		h, hasH := intAttr(s, "height")
		if (hasW && w < minImageSide) || (hasH && h < minImageSide) {
			return
		}
		area := 0
		if hasW && hasH {
			area = w * h
		}
		if area > bestArea {
			best, bestArea = src, area
		}
	})
	return best
}

func intAttr(s *goquery.Selection, name string) (int, bool) {
	v, ok := s.Attr(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	if err != nil {
		return 0, false
	}
	return n, true
}
