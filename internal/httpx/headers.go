// SPDX-License-Identifier: MIT

package httpx

import (
	"net/http"

	"github.com/submaker/submaker/internal/version"
)

// Browser-like header templates per provider family. Some upstreams serve
// challenge pages to clients that do not look like a browser; others key
// quota buckets off the declared consumer product.
var headerTemplates = map[string]map[string]string{
	"opensubtitles": {
		"Accept":       "application/json",
		"Content-Type": "application/json",
	},
	"opensubtitles-v3": {
		"Accept":       "application/json",
		"Content-Type": "application/json",
	},
	"subdl": {
		"Accept": "application/json",
	},
	"subsource": {
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.9",
		"Origin":          "https://subsource.net",
		"Referer":         "https://subsource.net/",
		"Sec-Fetch-Dest":  "empty",
		"Sec-Fetch-Mode":  "cors",
		"Sec-Fetch-Site":  "same-site",
	},
}

// ApplyHeaders stamps the provider's header template plus the user agent
// onto the request. Headers the caller already set win.
func ApplyHeaders(req *http.Request, provider string) {
	for k, v := range headerTemplates[provider] {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}
}
