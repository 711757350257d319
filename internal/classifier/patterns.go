package classifier

import "regexp"

// patternSet binds a category to the regexes that identify it in error
// messages and page text. Sets are evaluated in order; the first match
// wins.
type patternSet struct {
	category Category
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+expr))
	}
	return compiled
}

// sitePatterns carry retailer-specific wording checked before the generic
// table. Adding a site is a data change.
var sitePatterns = map[string][]patternSet{
	"amazon": {
		{CategoryCaptcha, compile(
			`enter the characters you see`,
			`geben sie die zeichen`,
			`type the characters you see in this image`,
			`robot check`,
		)},
		{CategoryBlocked, compile(
			`tut uns leid`,
			`klicke auf die schaltfläche`,
			`to discuss automated access`,
		)},
		{CategoryNotFound, compile(
			`looking for something\?`,
			`dogs of amazon`,
		)},
	},
}

// genericPatterns are checked after any site-specific sets. Ordering
// matters: the sharper signals come first so e.g. a captcha page containing
// the word "blocked" still classifies as captcha.
var genericPatterns = []patternSet{
	{CategoryCaptcha, compile(
		`captcha`,
		`verify (you are|you're) (a )?human`,
		`unusual traffic`,
		`cf-challenge`,
	)},
	{CategoryAuthRequired, compile(
		`sign in to continue`,
		`login required`,
		`authentication required`,
		`status(:| code)? 401`,
		`\bunauthorized\b`,
	)},
	{CategoryGeoBlocked, compile(
		`not available in your (country|region)`,
		`geo.?(blocked|restricted)`,
		`unavailable in your location`,
	)},
	{CategoryRateLimit, compile(
		`status(:| code)? 429`,
		`\b429\b`,
		`too many requests`,
		`rate.?limit`,
		`status(:| code)? 503`,
		`\b503\b`,
		`slow down`,
	)},
	{CategoryBlocked, compile(
		`status(:| code)? 403`,
		`\b403\b`,
		`\bforbidden\b`,
		`access denied`,
		`request blocked`,
	)},
	{CategoryNotFound, compile(
		`status(:| code)? 404`,
		`\b404\b`,
		`page not found`,
		`no longer available`,
	)},
	{CategoryOutOfStock, compile(
		`out of stock`,
		`sold out`,
		`currently unavailable`,
	)},
	{CategoryTimeout, compile(
		`timeout`,
		`timed out`,
		`deadline exceeded`,
	)},
	{CategoryNetwork, compile(
		`connection (refused|reset)`,
		`no such host`,
		`dial tcp`,
		`network is unreachable`,
		`\bdns\b`,
		`net::err`,
		`proxy`,
	)},
	{CategoryParseError, compile(
		`parse`,
		`invalid price`,
		`unmarshal`,
	)},
	{CategorySelectorFailed, compile(
		`selector`,
		`element not found`,
		`no element matches`,
		`waiting for locator`,
	)},
}
