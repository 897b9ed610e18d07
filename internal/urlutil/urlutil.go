// Package urlutil classifies and validates the camera URLs that
// StreamConfig rows carry: RTSP/RTSPS for the TCP-interleaved ingest
// source, HTTP/HTTPS for MJPEG cameras, or a bare host:port (common in
// camera firmware, implicitly RTSP).
package urlutil

import (
	"net/url"
	"strings"

	"github.com/lightnvr/lightnvr/internal/errs"
)

// URL scheme constants.
const (
	SchemeRTSP  = "rtsp"
	SchemeRTSPS = "rtsps"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// GetScheme returns the lowercased scheme of u, or "" if u has no "://"
// (the bare-host-port case a camera URL commonly uses) or fails to parse.
func GetScheme(u string) string {
	if !strings.Contains(u, "://") {
		return ""
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// IsHTTPScheme reports whether u's scheme is http or https.
func IsHTTPScheme(u string) bool {
	switch GetScheme(u) {
	case SchemeHTTP, SchemeHTTPS:
		return true
	default:
		return false
	}
}

// ValidateURL checks that u is a bare host:port (assumed RTSP, and
// accepted without further parsing since Go's url.Parse rejects a
// colon in the first path segment of a scheme-less reference), or an
// explicit rtsp://, rtsps://, http://, or https:// URL. Anything else —
// ftp, file, a malformed URL, a scheme this recorder's ingest sources
// don't implement — is rejected.
func ValidateURL(u string) error {
	if u == "" {
		return errs.ErrURLRequired
	}

	if !strings.Contains(u, "://") {
		return nil
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return errs.ErrURLInvalid
	}

	switch strings.ToLower(parsed.Scheme) {
	case SchemeRTSP, SchemeRTSPS, SchemeHTTP, SchemeHTTPS:
		return nil
	default:
		return errs.ErrURLInvalid
	}
}
