package service

import (
	"net/http"
)

// RedactionMarker replaces sensitive header values in diagnostic output.
const RedactionMarker = "[REDACTED]"

// sensitiveHeaders are redacted from logged headers. The forwarded request
// is never redacted: callers rely on the proxy passing credentials through.
var sensitiveHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Api-Key",
	"Api-Key",
}

// RedactHeaders returns a copy of src safe for logging, with the values of
// sensitive headers replaced by the redaction marker.
func RedactHeaders(src http.Header) http.Header {
	dst := src.Clone()
	for _, key := range sensitiveHeaders {
		if len(dst.Values(key)) > 0 {
			dst.Set(key, RedactionMarker)
		}
	}
	return dst
}

// forwardHeaders returns the headers to send upstream: everything from the
// inbound request verbatim, minus the inbound Host header. The outbound Host
// is the target's own host and is set on the request itself (net/http takes
// it from Request.Host, not from the header map).
func forwardHeaders(src http.Header) http.Header {
	dst := src.Clone()
	dst.Del("Host")
	return dst
}
