package relay

import "strings"

// Template placeholders.
const (
	PlaceholderText = "{tweet_text}"
	PlaceholderURL  = "{tweet_url}"
)

// Render substitutes every occurrence of the post text and permalink
// placeholders. Substitution is literal and single pass, so placeholders that
// appear inside the substituted values are left alone. Unknown placeholders
// pass through unchanged and nothing is escaped.
func Render(template, text, url string) string {
	return strings.NewReplacer(PlaceholderText, text, PlaceholderURL, url).Replace(template)
}

// DefaultPlatformBaseURL is used when no platform base url is configured.
const DefaultPlatformBaseURL = "https://twitter.com"

// Permalink builds the canonical url of a post.
func Permalink(baseURL, account, postID string) string {
	if baseURL == "" {
		baseURL = DefaultPlatformBaseURL
	}
	account = strings.TrimPrefix(strings.TrimSpace(account), "@")
	return strings.TrimRight(baseURL, "/") + "/" + account + "/status/" + postID
}
