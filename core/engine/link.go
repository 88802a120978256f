package engine

import "regexp"

var (
	urlPattern    = regexp.MustCompile(`https?://\S+`)
	targetPattern = regexp.MustCompile(`^https?://steamcommunity\.com/(id|profiles)/[A-Za-z0-9_-]+`)
)

// extractTarget pulls the first URL-shaped substring out of free-form buyer
// text. The second return reports whether anything URL-shaped was found.
func extractTarget(text string) (string, bool) {
	match := urlPattern.FindString(text)
	return match, match != ""
}

// validTarget reports whether the URL is an acceptable delivery target
// (a Steam community profile link).
func validTarget(link string) bool {
	return targetPattern.MatchString(link)
}
