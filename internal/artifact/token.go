// internal/artifact/token.go
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/authtap/internal/capture"
)

// filePerm keeps credentials readable by the owner only.
const filePerm = 0o600

// parserUnverified decodes token contents without checking the signature.
// The signing key is never available to us.
var parserUnverified = jwt.NewParser(jwt.WithoutClaimsValidation())

// TokenInfo describes a captured token without containing it.
type TokenInfo struct {
	Length     int       `json:"length"`
	Source     string    `json:"source,omitempty"`
	URL        string    `json:"url,omitempty"`
	Method     string    `json:"method,omitempty"`
	CapturedAt time.Time `json:"captured_at"`

	JWT       bool       `json:"jwt"`
	Algorithm string     `json:"algorithm,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	Issuer    string     `json:"issuer,omitempty"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
}

// InspectToken decodes what it can from token. Opaque tokens yield JWT=false.
// now is used to flag tokens that are already expired.
func InspectToken(token string, now time.Time) TokenInfo {
	info := TokenInfo{Length: len(token)}

	parsed, _, err := parserUnverified.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return info
	}
	info.JWT = true

	if alg, ok := parsed.Header["alg"].(string); ok {
		info.Algorithm = alg
		if strings.EqualFold(alg, "none") {
			info.Warnings = append(info.Warnings, "token is unsigned (alg none)")
		}
	}

	claims := parsed.Claims
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		info.Issuer = iss
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		t := iat.Time.UTC()
		info.IssuedAt = &t
	}
	exp, err := claims.GetExpirationTime()
	switch {
	case err != nil || exp == nil:
		info.Warnings = append(info.Warnings, "token has no expiration")
	default:
		t := exp.Time.UTC()
		info.ExpiresAt = &t
		if !now.IsZero() && t.Before(now) {
			info.Warnings = append(info.Warnings, "token is already expired")
		}
	}

	return info
}

// NewTokenInfo inspects the token of obs and attaches where it was seen.
func NewTokenInfo(obs capture.Observation) TokenInfo {
	info := InspectToken(obs.Token, obs.ObservedAt)
	info.Source = string(obs.Source)
	info.URL = obs.URL
	info.Method = obs.Method
	info.CapturedAt = obs.ObservedAt.UTC()
	return info
}

// WriteToken writes the bare token to path, creating parent directories.
func WriteToken(path, token string) error {
	if token == "" {
		return fmt.Errorf("refusing to write an empty token to %s", path)
	}
	return writeFile(path, []byte(token))
}

// WriteTokenInfo writes info as indented JSON.
func WriteTokenInfo(path string, info TokenInfo) error {
	return writeJSON(path, info)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, filePerm); err != nil {
		return fmt.Errorf("failed to restrict permissions on %s: %w", path, err)
	}
	return nil
}
