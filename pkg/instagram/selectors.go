package instagram

// Page markers. Instagram's markup changes often; every selector the
// scraper depends on lives here.
const (
	SelectorUsernameInput = `input[name="username"]`
	SelectorPasswordInput = `input[name="password"]`
	SelectorSubmit        = `button[type="submit"]`

	// SelectorLoggedIn only matches on pages rendered for a logged-in user
	SelectorLoggedIn = `svg[aria-label="Home"], a[href="/direct/inbox/"], svg[aria-label="New post"]`

	// SelectorLoginError matches the inline message shown for rejected credentials
	SelectorLoginError = `#slfErrorAlert, [data-testid="login-error-message"]`

	SelectorPostLink = `a[href*="/p/"], a[href*="/reel/"]`

	SelectorArticleTime = `article time[datetime]`
	SelectorAnyTime     = `time[datetime]`
	SelectorLDJSON      = `script[type="application/ld+json"]`

	SelectorOGImage       = `meta[property="og:image"]`
	SelectorOGDescription = `meta[property="og:description"]`
	SelectorArticleImage  = `article img[style*="object-fit"]`
)

// Text markers on profile pages
const (
	MarkerNotFound = "Sorry, this page isn't available"
	MarkerPrivate  = "This account is private"
	MarkerNoPosts  = "No posts yet"
)

// captionSelectors are tried in order; the first non-empty text wins
var captionSelectors = []string{
	`div[data-testid="post-comment-root"] span`,
	`h1`,
	`article span > div > span`,
}

// dismissTexts are the buttons of the post-login interstitials
var dismissTexts = []string{"Not Now", "Not now"}

// minImageSide excludes avatars and thumbnails from the largest-image search
const minImageSide = 150
