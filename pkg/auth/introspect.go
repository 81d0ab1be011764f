package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// introspector validates opaque tokens remotely by presenting them to the
// provider's who-am-I endpoint. A token the provider recognizes yields the
// subject it belongs to; anything else is invalid.
type introspector struct {
	keys   *keySet
	client *http.Client
}

func newIntrospector(keys *keySet, client *http.Client) *introspector {
	return &introspector{keys: keys, client: client}
}

func (i *introspector) whoAmI(ctx context.Context, token string) (*Identity, error) {
	endpoint, err := i.keys.userinfoEndpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving userinfo endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling userinfo endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: provider rejected the token (%d)", ErrInvalidCredential, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("userinfo request failed: %d", resp.StatusCode)
	}

	var info struct {
		Sub   string `json:"sub"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("parsing userinfo response: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: userinfo response has no subject", ErrInvalidCredential)
	}

	name := info.Name
	if name == "" {
		name = info.Email
	}
	return &Identity{
		Subject: info.Sub,
		Name:    name,
		Method:  MethodIntrospection,
	}, nil
}
