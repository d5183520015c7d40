package database

import (
	"net/url"
	"regexp"
	"strings"
)

var keywordPassword = regexp.MustCompile(`password=\S+`)

// RedactURL hides the password of a connection string so it can be logged.
// Both URL and keyword/value forms are handled.
func RedactURL(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "<unparseable database url>"
		}
		return u.Redacted()
	}
	return keywordPassword.ReplaceAllString(dsn, "password=xxxxx")
}
