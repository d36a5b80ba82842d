// Package fingerprint computes the device-identity signals the token
// service binds into access tokens and the automation heuristics the
// request-gating middleware chain consumes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

const none = "none"

func orNone(v string) string {
	if v == "" {
		return none
	}
	return v
}

// Signals is the set of request headers the enhanced fingerprint binds
// together. TLSInfo is supplied by the caller (e.g. cipher suite name
// from the TLS connection state) since it isn't an HTTP header.
type Signals struct {
	IP              string
	TLSInfo         string
	UserAgent       string
	AcceptLanguage  string
	AcceptEncoding  string
	SecFetchSite    string
	SecFetchMode    string
	SecFetchDest    string
}

// SignalsFromRequest extracts fingerprint signals from an *http.Request.
// clientIP should already be resolved by the caller (proxy-aware); it is
// not derived from RemoteAddr here.
func SignalsFromRequest(r *http.Request, clientIP, tlsInfo string) Signals {
	h := r.Header
	return Signals{
		IP:             clientIP,
		TLSInfo:        tlsInfo,
		UserAgent:      h.Get("User-Agent"),
		AcceptLanguage: h.Get("Accept-Language"),
		AcceptEncoding: h.Get("Accept-Encoding"),
		SecFetchSite:   h.Get("Sec-Fetch-Site"),
		SecFetchMode:   h.Get("Sec-Fetch-Mode"),
		SecFetchDest:   h.Get("Sec-Fetch-Dest"),
	}
}

// Enhanced computes the SHA-256 of the ordered concatenation of the
// eight signals, with missing values encoded as "none".
func Enhanced(s Signals) string {
	parts := []string{
		orNone(s.IP),
		orNone(s.TLSInfo),
		orNone(s.UserAgent),
		orNone(s.AcceptLanguage),
		orNone(s.AcceptEncoding),
		orNone(s.SecFetchSite),
		orNone(s.SecFetchMode),
		orNone(s.SecFetchDest),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Legacy computes the grace-path fingerprint used only for tokens
// issued before the enhanced scheme existed.
func Legacy(userAgent, ip string) string {
	sum := sha256.Sum256([]byte(userAgent + ":" + ip))
	return hex.EncodeToString(sum[:])
}
