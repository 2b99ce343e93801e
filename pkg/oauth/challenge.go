package oauth

import (
	"net/http"
	"strings"
)

// Challenge is one authentication challenge from a WWW-Authenticate header
type Challenge struct {
	Scheme string
	Params map[string]string
}

// ParseWWWAuthenticate splits a WWW-Authenticate header value into its
// challenges. Several challenges may share one header, separated by commas.
func ParseWWWAuthenticate(header string) []Challenge {
	var (
		challenges []Challenge
		current    *Challenge
		s          = header
	)

	for {
		s = strings.TrimLeft(s, " \t,")
		if s == "" {
			break
		}

		token, rest := splitToken(s)
		after := strings.TrimLeft(rest, " \t")

		// A token not followed by '=' starts a new challenge
		if !strings.HasPrefix(after, "=") {
			challenges = append(challenges, Challenge{Scheme: token, Params: map[string]string{}})
			current = &challenges[len(challenges)-1]
			s = rest
			continue
		}

		value, remaining := parseValue(strings.TrimLeft(after[1:], " \t"))
		if current != nil {
			current.Params[strings.ToLower(token)] = value
		}
		s = remaining
	}

	return challenges
}

// BearerHint is what a Bearer challenge tells a client about discovery
type BearerHint struct {
	ResourceMetadata string
	Scopes           []string
}

// ParseBearerChallenge returns the resource_metadata URL and scope list of the
// first Bearer challenge in h. ok is false when there is no Bearer challenge.
func ParseBearerChallenge(h http.Header) (hint BearerHint, ok bool) {
	for _, value := range h.Values("WWW-Authenticate") {
		for _, c := range ParseWWWAuthenticate(value) {
			if !strings.EqualFold(c.Scheme, "Bearer") {
				continue
			}
			hint.ResourceMetadata = c.Params["resource_metadata"]
			if scope, found := c.Params["scope"]; found {
				hint.Scopes = strings.Fields(scope)
				if hint.Scopes == nil {
					hint.Scopes = []string{}
				}
			}
			return hint, true
		}
	}
	return BearerHint{}, false
}

func splitToken(s string) (token, rest string) {
	i := strings.IndexAny(s, " \t,=")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

// parseValue reads a token or quoted-string and returns the text after it
func parseValue(s string) (value, rest string) {
	if !strings.HasPrefix(s, `"`) {
		i := strings.IndexAny(s, ", \t")
		if i < 0 {
			return s, ""
		}
		return s[:i], s[i:]
	}

	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '"':
			return b.String(), s[i+1:]
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), ""
}
