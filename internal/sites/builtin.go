package sites

import "time"

// Built-in rate-limit profiles. Times in milliseconds match the site table
// shipped with the tracker; unknown hosts get the conservative default.
var (
	amazonProfile = RateLimitProfile{
		MinDelay:             2000 * time.Millisecond,
		MaxDelay:             5000 * time.Millisecond,
		MaxRequestsPerMinute: 10,
		BackoffMultiplier:    2.0,
		MaxBackoffDelay:      30 * time.Second,
	}

	burtonProfile = RateLimitProfile{
		MinDelay:             1000 * time.Millisecond,
		MaxDelay:             3000 * time.Millisecond,
		MaxRequestsPerMinute: 20,
		BackoffMultiplier:    1.5,
		MaxBackoffDelay:      15 * time.Second,
	}

	defaultProfile = RateLimitProfile{
		MinDelay:             3000 * time.Millisecond,
		MaxDelay:             6000 * time.Millisecond,
		MaxRequestsPerMinute: 5,
		BackoffMultiplier:    2.0,
		MaxBackoffDelay:      60 * time.Second,
	}
)

// DefaultProfile returns the profile applied to unknown hosts.
func DefaultProfile() RateLimitProfile {
	return defaultProfile
}

func builtinEntries() []*Entry {
	return []*Entry{
		{
			Name:     "Amazon",
			Patterns: []string{"amazon.com", "amazon.de", "amazon.co.uk"},
			Priority: 100,
			Selectors: Selectors{
				Title: []string{
					"#productTitle",
					"#title span",
				},
				Price: []string{
					"span.a-price .a-offscreen",
					"span.a-price-whole",
					"#priceblock_dealprice",
					"#priceblock_ourprice",
					"span.apexPriceToPay .a-offscreen",
				},
				Availability: []string{
					"#availability span",
					"#availability",
					"#add-to-cart-button",
				},
			},
			Profile: amazonProfile,
			Extract: extractAmazon,
		},
		{
			Name:     "Burton",
			Patterns: []string{"burton.com"},
			Priority: 50,
			Selectors: Selectors{
				Title: []string{
					"h1.product-name",
					"h1[itemprop=name]",
					".pdp-title",
				},
				Price: []string{
					"span.product-price .sales .value",
					"span[itemprop=price]",
					".product-price",
				},
				Availability: []string{
					".availability-msg",
					"button.add-to-cart",
				},
			},
			Profile: burtonProfile,
		},
	}
}

// genericEntry enumerates the most common product selectors so a
// never-before-seen host still yields a best-effort extraction.
func genericEntry() *Entry {
	return &Entry{
		Name:     "Generic",
		Patterns: nil,
		Priority: 0,
		Selectors: Selectors{
			Title: []string{
				"[itemprop=name]",
				"h1.product-title",
				"h1[class*=product-title]",
				"h1[class*=product-name]",
				"[class*=product-title]",
				"[class*=product-name]",
				"h1",
			},
			Price: []string{
				"[itemprop=price]",
				"[class*=product-price]",
				"[class*=price-current]",
				"[class*=sale-price]",
				"[data-price]",
				"[class*=price]",
			},
			Availability: []string{
				"[itemprop=availability]",
				"[class*=availability]",
				"[class*=stock-status]",
				"[class*=in-stock]",
				"button[class*=add-to-cart]",
			},
		},
		Profile: defaultProfile,
	}
}
