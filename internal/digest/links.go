package digest

import (
	"net/url"
	"strings"

	"github.com/ibeckermayer/newsdigest/internal/token"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// Links builds capability URLs for the preference site.
type Links struct {
	baseURL string
	tokens  *token.Service
}

// NewLinks creates a link builder rooted at baseURL.
func NewLinks(baseURL string, tokens *token.Service) Links {
	return Links{baseURL: strings.TrimRight(baseURL, "/"), tokens: tokens}
}

// Preferences returns the preference page URL for identity.
func (l Links) Preferences(identity string) string {
	return l.build("/preferences", identity)
}

// Unsubscribe returns the one-click unsubscribe URL for identity.
func (l Links) Unsubscribe(identity string) string {
	return l.build("/unsubscribe", identity)
}

func (l Links) build(path, identity string) string {
	identity = types.NormalizeIdentity(identity)
	q := url.Values{}
	q.Set("email", identity)
	q.Set("token", l.tokens.Issue(identity))
	return l.baseURL + path + "?" + q.Encode()
}
