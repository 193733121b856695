// internal/capture/token.go
package capture

import (
	"errors"
	"strings"
)

// AuthorizationHeader is the header whose value is captured.
const AuthorizationHeader = "authorization"

const bearerPrefix = "bearer "

// ErrMalformedValue means a matching header carried no usable token.
var ErrMalformedValue = errors.New("authorization header value is empty")

// IsAuthorizationHeader reports whether name is "authorization" in any letter casing.
func IsAuthorizationHeader(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), AuthorizationHeader)
}

// NormalizeToken turns a raw header value into a bare token. Surrounding
// whitespace is trimmed and a leading "Bearer " is removed regardless of case.
func NormalizeToken(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if len(v) >= len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		v = strings.TrimSpace(v[len(bearerPrefix):])
	} else if strings.EqualFold(v, strings.TrimSpace(bearerPrefix)) {
		v = ""
	}
	if v == "" {
		return "", ErrMalformedValue
	}
	return v, nil
}

// MatchAuthorizationStrings looks up the authorization header in any letter
// casing. When the map holds several casings, a non-empty value is preferred
// and ties are broken by key order so the result does not depend on map
// iteration.
func MatchAuthorizationStrings(headers map[string]string) (string, bool) {
	var (
		key, value string
		found      bool
	)
	for k, v := range headers {
		if !IsAuthorizationHeader(k) {
			continue
		}
		if found && !betterMatch(k, v, key, value) {
			continue
		}
		key, value, found = k, v, true
	}
	return value, found
}

func betterMatch(k, v, curKey, curValue string) bool {
	empty, curEmpty := strings.TrimSpace(v) == "", strings.TrimSpace(curValue) == ""
	if empty != curEmpty {
		return !empty
	}
	return k < curKey
}
