package domain

import (
	"regexp"
	"strings"
)

// e.g. https://social.example/@blog/posts/d705a07a7c621e8168b526a5d7987f49.json#create
var localIDPattern = regexp.MustCompile(`https?://.*/@.*/posts/([0-9a-f]+)`)

var tokenPattern = regexp.MustCompile(`^[-\w]+$`)

// ExtractLocalID converts the external id of a local post into its storage
// token. Every caller that stores or looks up a post by its external id goes
// through here.
func ExtractLocalID(postID string) (string, error) {
	m := localIDPattern.FindStringSubmatch(postID)
	if m == nil {
		return "", validationErrorf("can't retrieve local ID for '%s'", postID)
	}
	return m[1], nil
}

// ObjectToken returns the trailing path segment of an object reference, with
// any fragment and ".json" suffix removed. It returns false when the segment
// is not a plausible token, which callers treat as a miss.
func ObjectToken(objectID string) (string, bool) {
	if i := strings.IndexByte(objectID, '#'); i >= 0 {
		objectID = objectID[:i]
	}
	if i := strings.IndexByte(objectID, '?'); i >= 0 {
		objectID = objectID[:i]
	}
	objectID = strings.TrimSuffix(objectID, "/")
	if i := strings.LastIndexByte(objectID, '/'); i >= 0 {
		objectID = objectID[i+1:]
	}
	objectID = strings.TrimSuffix(objectID, ".json")
	if !tokenPattern.MatchString(objectID) {
		return "", false
	}
	return objectID, true
}

// IsToken reports whether s can be used as a post file name.
func IsToken(s string) bool {
	return tokenPattern.MatchString(s)
}
