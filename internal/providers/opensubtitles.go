// SPDX-License-Identifier: MIT

package providers

import (
	"context"
	"net/http"

	"github.com/submaker/submaker/internal/loginlock"
	"github.com/submaker/submaker/internal/subtitle"
)

func init() {
	register("opensubtitles", func(deps Deps) Provider {
		return &openSubtitles{
			openSubtitlesV3: openSubtitlesV3{client: deps.Client, apiKey: deps.APIKey, baseURL: osV3BaseURL},
			username:        deps.Username,
			password:        deps.Password,
			login:           deps.Login,
			tokens:          deps.Tokens,
		}
	})
}

// openSubtitles is the authenticated variant: same REST API, but calls
// carry a user session token, which unlocks the account's download quota.
// Logins go through the distributed coordinator because the upstream
// throttles them hard.
type openSubtitles struct {
	openSubtitlesV3

	username string
	password string
	login    *loginlock.Coordinator
	tokens   *loginlock.TokenStore
}

func (p *openSubtitles) Name() string { return "opensubtitles" }

func (p *openSubtitles) Search(ctx context.Context, req SearchRequest) ([]subtitle.Descriptor, error) {
	out, err := p.authed(ctx, func(ctx context.Context, headers map[string]string) (any, error) {
		return p.searchWith(ctx, req, headers)
	})
	if err != nil {
		return nil, err
	}
	descs := out.([]subtitle.Descriptor)
	// Re-stamp identity: the embedded client encodes its own name.
	for i := range descs {
		_, local, ps, pe, derr := subtitle.DecodeID(descs[i].ID)
		if derr != nil {
			continue
		}
		descs[i].Provider = p.Name()
		descs[i].ID = subtitle.EncodeID(p.Name(), local, ps, pe)
	}
	return descs, nil
}

func (p *openSubtitles) ResolveDownload(ctx context.Context, localID string) (string, error) {
	out, err := p.authed(ctx, func(ctx context.Context, headers map[string]string) (any, error) {
		return p.resolveWith(ctx, localID, headers)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// authed runs fn with the current session token, logging in (once,
// coordinated) when there is no token or the upstream rejects it.
func (p *openSubtitles) authed(ctx context.Context, fn func(ctx context.Context, headers map[string]string) (any, error)) (any, error) {
	token := p.tokens.Get(ctx)
	if token == "" {
		var err error
		if token, err = p.ensureToken(ctx, ""); err != nil {
			return nil, err
		}
	}

	out, err := fn(ctx, p.authHeaders(token))
	if oe, ok := AsOpError(err); ok && oe.Code == CodeAuthentication {
		// Token expired or revoked; refresh exactly once and retry.
		fresh, lerr := p.ensureToken(ctx, token)
		if lerr != nil {
			return nil, lerr
		}
		return fn(ctx, p.authHeaders(fresh))
	}
	return out, err
}

// ensureToken logs in under the distributed lock. stale is the token the
// caller just saw fail; if another instance refreshed while we queued, its
// token wins and no login happens at all.
func (p *openSubtitles) ensureToken(ctx context.Context, stale string) (string, error) {
	var token string
	err := p.login.Do(ctx, func(ctx context.Context) error {
		if cur := p.tokens.Get(ctx); cur != "" && cur != stale {
			token = cur
			return nil
		}

		var resp osLoginResponse
		body := map[string]string{"username": p.username, "password": p.password}
		if err := doJSON(ctx, p.client, p.Name(), "login", http.MethodPost, p.baseURL+"/login", p.headers(), body, &resp); err != nil {
			return err
		}
		if resp.Token == "" {
			return &OpError{Provider: p.Name(), Op: "login", Code: CodeServerError}
		}

		installed, err := p.tokens.CompareAndSwap(ctx, stale, resp.Token)
		if err != nil {
			// CAS backend gone; the fresh token is still good locally.
			token = resp.Token
			return nil
		}
		if installed {
			token = resp.Token
		} else {
			token = p.tokens.Get(ctx)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (p *openSubtitles) authHeaders(token string) map[string]string {
	h := p.openSubtitlesV3.headers()
	h["Authorization"] = "Bearer " + token
	return h
}

type osLoginResponse struct {
	Token string `json:"token"`
	User  struct {
		AllowedDownloads int  `json:"allowed_downloads"`
		VIP              bool `json:"vip"`
	} `json:"user"`
}
