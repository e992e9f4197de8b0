package mcp

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// authorizedClient returns an HTTP client that authenticates requests to
// srv. OAuth servers with a token URL get a client-credentials token
// source; everything else falls back to a static bearer key.
func authorizedClient(srv *Server, base *http.Client) *http.Client {
	if srv.AuthType == AuthOAuth && srv.tokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     srv.clientID,
			ClientSecret: srv.clientSecret,
			TokenURL:     srv.tokenURL,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		hc := cc.Client(ctx)
		hc.Timeout = base.Timeout
		return hc
	}
	if srv.APIKey != "" && srv.AuthType != AuthNone {
		return &http.Client{
			Timeout:   base.Timeout,
			Transport: &bearerTransport{key: srv.APIKey, base: base.Transport},
		}
	}
	return base
}

type bearerTransport struct {
	key  string
	base http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+t.key)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

// authHeaders returns the headers used by the JSON-RPC transports.
func authHeaders(ctx context.Context, srv *Server) (map[string]string, error) {
	headers := map[string]string{}
	switch {
	case srv.AuthType == AuthOAuth && srv.tokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     srv.clientID,
			ClientSecret: srv.clientSecret,
			TokenURL:     srv.tokenURL,
		}
		tok, err := cc.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch oauth token: %w", err)
		}
		headers["Authorization"] = tok.Type() + " " + tok.AccessToken
	case srv.APIKey != "" && srv.AuthType != AuthNone:
		headers["Authorization"] = "Bearer " + srv.APIKey
	}
	return headers, nil
}
