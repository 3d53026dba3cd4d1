package web

import (
	"net/http"
	"regexp"

	"github.com/deemkeen/pubcore/activitypub"
)

// verbFeed is answered by the front-end itself, not the engine.
const verbFeed activitypub.Verb = "feed"

type route struct {
	pattern *regexp.Regexp
	verb    activitypub.Verb
	method  string
}

var routes = []route{
	{regexp.MustCompile(`^/\.well-known/webfinger$`), activitypub.VerbWebFinger, http.MethodGet},
	{regexp.MustCompile(`^/@([-\w]+)$`), activitypub.VerbProfile, http.MethodGet},
	{regexp.MustCompile(`^/@([-\w]+)/following$`), activitypub.VerbFollowing, http.MethodGet},
	{regexp.MustCompile(`^/@([-\w]+)/followers$`), activitypub.VerbFollowers, http.MethodGet},
	{regexp.MustCompile(`^/@([-\w]+)/inbox$`), activitypub.VerbInbox, http.MethodPost},
	{regexp.MustCompile(`^/@([-\w]+)/outbox$`), activitypub.VerbOutbox, http.MethodGet},
	{regexp.MustCompile(`^/@([-\w]+)/posts/([-\w]+)(?:\.json)?$`), activitypub.VerbGetPost, http.MethodGet},
	{regexp.MustCompile(`^/@([-\w]+)/feed$`), verbFeed, http.MethodGet},
}

// Route maps a request path to an engine request and the method it expects.
func Route(path string) (activitypub.Request, string, bool) {
	for _, r := range routes {
		m := r.pattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		req := activitypub.Request{Verb: r.verb}
		if len(m) > 1 {
			req.Account = m[1]
		}
		if len(m) > 2 {
			req.PostID = m[2]
		}
		return req, r.method, true
	}
	return activitypub.Request{}, "", false
}
