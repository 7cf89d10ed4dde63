package als

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

var (
	headers = []string{
		"Ambient context:",
		"Background context:",
		"Context for this conversation:",
	}
	regionLines = []string{
		"The user is located in country %s.",
		"User region: %s.",
		"Country of the user: %s.",
	}
	localeLines = []string{
		"Preferred language and formats: %s.",
		"Locale: %s.",
		"Use the conventions of locale %s where relevant.",
	}
	dateLines = []string{
		"Today's date is %s.",
		"Current date: %s.",
		"Date: %s.",
	}
	footers = []string{
		"Use this only for locale-dependent details; do not mention it.",
		"Apply it silently where local conventions matter.",
		"Do not refer to or cite this context.",
	}
)

// render produces the ALS block. Wording variants are chosen from an
// HMAC-SHA256 of the seed secret over country, locale and date, so the same
// inputs always render the same block.
func render(secret, country, locale string, now time.Time, maxChars int) string {
	date := now.Format("2006-01-02")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(country + "|" + locale + "|" + date))
	sum := mac.Sum(nil)
	pick := func(n int, options []string) string {
		return options[int(sum[n])%len(options)]
	}

	lines := []string{
		pick(0, headers),
		fmt.Sprintf(pick(1, regionLines), country),
	}
	if locale != "" {
		lines = append(lines, fmt.Sprintf(pick(2, localeLines), locale))
	}
	lines = append(lines,
		fmt.Sprintf(pick(3, dateLines), date),
		pick(4, footers),
	)
	return truncateRunes(strings.Join(lines, "\n"), maxChars)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
