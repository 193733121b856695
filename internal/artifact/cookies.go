// internal/artifact/cookies.go
package artifact

import (
	"strings"

	"github.com/chromedp/cdproto/network"
)

// Cookie is the JSON shape browser cookie-editor extensions import.
type Cookie struct {
	Domain         string   `json:"domain"`
	ExpirationDate *float64 `json:"expirationDate,omitempty"`
	HostOnly       bool     `json:"hostOnly"`
	HTTPOnly       bool     `json:"httpOnly"`
	Name           string   `json:"name"`
	Path           string   `json:"path"`
	SameSite       string   `json:"sameSite"`
	Secure         bool     `json:"secure"`
	Session        bool     `json:"session"`
	StoreID        string   `json:"storeId"`
	Value          string   `json:"value"`
	ID             int      `json:"id"`
}

// ExportCookies converts CDP cookies into the extension format. Only cookies
// whose domain contains domainFilter are kept (all of them when it is empty),
// and ids are numbered from 1 in the order kept.
func ExportCookies(cookies []*network.Cookie, domainFilter string) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		if domainFilter != "" && !strings.Contains(c.Domain, domainFilter) {
			continue
		}

		path := c.Path
		if path == "" {
			path = "/"
		}

		rec := Cookie{
			Domain:   c.Domain,
			HostOnly: !strings.HasPrefix(c.Domain, "."),
			HTTPOnly: c.HTTPOnly,
			Name:     c.Name,
			Path:     path,
			SameSite: normalizeSameSite(string(c.SameSite)),
			Secure:   c.Secure,
			Session:  c.Session || c.Expires <= 0,
			StoreID:  "0",
			Value:    c.Value,
			ID:       len(out) + 1,
		}
		if !rec.Session {
			exp := c.Expires
			rec.ExpirationDate = &exp
		}
		out = append(out, rec)
	}
	return out
}

func normalizeSameSite(v string) string {
	switch s := strings.ToLower(v); s {
	case "lax", "strict", "none":
		return s
	default:
		return "unspecified"
	}
}

// WriteCookies writes cookies as indented JSON, owner readable only.
func WriteCookies(path string, cookies []Cookie) error {
	return writeJSON(path, cookies)
}
