package httpd

import (
	"strconv"
	"strings"
)

// CacheControl holds the RFC 9111 directives the engine recognizes.
// MaxAge and SMaxAge are -1 when absent. This is the caching *decision*
// surface only; the engine stores nothing.
type CacheControl struct {
	NoStore        bool
	NoCache        bool
	Private        bool
	Public         bool
	MustRevalidate bool
	MaxAge         int64
	SMaxAge        int64
}

// ParseCacheControl parses a Cache-Control field value. Unknown
// directives are ignored; a malformed argument disables its directive
// rather than failing the message.
func ParseCacheControl(v string) CacheControl {
	cc := CacheControl{MaxAge: -1, SMaxAge: -1}
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, arg := part, ""
		if i := strings.IndexByte(part, '='); i >= 0 {
			name, arg = part[:i], strings.Trim(part[i+1:], `"`)
		}
		switch strings.ToLower(name) {
		case "no-store":
			cc.NoStore = true
		case "no-cache":
			cc.NoCache = true
		case "private":
			cc.Private = true
		case "public":
			cc.Public = true
		case "must-revalidate":
			cc.MustRevalidate = true
		case "max-age":
			if n, err := strconv.ParseInt(arg, 10, 64); err == nil && n >= 0 {
				cc.MaxAge = n
			}
		case "s-maxage":
			if n, err := strconv.ParseInt(arg, 10, 64); err == nil && n >= 0 {
				cc.SMaxAge = n
			}
		}
	}
	return cc
}

// Statuses a cache may store without explicit freshness information,
// per RFC 9110 §15.1 (heuristically cacheable).
var heuristicallyCacheable = map[int]bool{
	200: true, 203: true, 204: true, 206: true, 300: true,
	301: true, 308: true, 404: true, 405: true, 410: true,
	414: true, 501: true,
}

// Storable decides whether a shared cache may store the response to the
// given exchange, per RFC 9111 §3. It answers the storage question only;
// freshness and revalidation are the cache's business.
func Storable(method string, status int, reqHdr, respHdr Header) bool {
	if method != "GET" && method != "HEAD" {
		return false
	}
	reqCC := ParseCacheControl(strings.Join(reqHdr.Values("Cache-Control"), ","))
	respCC := ParseCacheControl(strings.Join(respHdr.Values("Cache-Control"), ","))
	if reqCC.NoStore || respCC.NoStore || respCC.Private {
		return false
	}
	if reqHdr.Get("Authorization") != "" {
		// Authenticated responses need explicit permission.
		if !respCC.Public && !respCC.MustRevalidate && respCC.SMaxAge < 0 {
			return false
		}
	}
	if respCC.MaxAge >= 0 || respCC.SMaxAge >= 0 || respCC.Public {
		return true
	}
	if respHdr.Get("Expires") != "" {
		return true
	}
	return heuristicallyCacheable[status]
}
