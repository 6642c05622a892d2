package feed

import (
	"errors"
	"net/http"
)

// Credentials authenticate a WebSocket price gateway. They are stored in
// the secrets store as {"url": "...", "token": "..."}.
type Credentials struct {
	URL   string
	Token string
}

// ParseCredentials validates a raw secret map.
func ParseCredentials(raw map[string]string) (Credentials, error) {
	c := Credentials{URL: raw["url"], Token: raw["token"]}
	if c.Token == "" {
		return Credentials{}, errors.New("missing required field: token")
	}
	return c, nil
}

// Header returns the dial header carrying the token.
func (c Credentials) Header() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}
