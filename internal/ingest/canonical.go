// Package ingest fetches, canonicalizes, extracts, and summarizes
// referenced websites. Every step is idempotent against retries and
// fails into a recorded, degraded state rather than failing the turn.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/sells-group/intake-cli/internal/model"
)

// Versions folded into the ingest idempotency key. Bump LimitsVersion
// when fetch limits change and EngineVersion when extraction or
// summarization behavior changes, so stale runs stop matching.
const (
	LimitsVersion = "limits-v1" // 8s timeout, 1MB cap, 3 hops, 80 char floor
	EngineVersion = "engine-v1"
)

// Error is an ingest failure with a machine-readable code.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("ingest: %s: %s", e.Code, e.Msg) }

func codedErr(code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the ingest error code from err, or returns
// FETCH_FAILED for uncoded errors.
func ErrorCode(err error) string {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return model.IngestErrFetchFailed
}

// Canonicalize validates and normalizes an artifact reference. Only
// https URLs to public hosts are accepted; loopback, link-local, and
// private ranges are rejected before any network traffic happens.
func Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", codedErr(model.IngestErrInvalidURL, "empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", codedErr(model.IngestErrInvalidURL, "parse %q: %v", raw, err)
	}
	if u.Scheme != "https" {
		return "", codedErr(model.IngestErrInvalidURL, "scheme %q not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", codedErr(model.IngestErrInvalidURL, "missing host")
	}
	if err := CheckHost(host); err != nil {
		return "", err
	}

	u.Host = strings.ToLower(u.Host)
	if u.Port() == "443" {
		u.Host = u.Hostname()
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// CheckHost rejects hosts that resolve inside the SSRF blocklist. IP
// literals are checked directly; hostnames are checked by name only
// here, with resolved addresses re-validated at dial time.
func CheckHost(host string) error {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || lower == "localhost.localdomain" {
		return codedErr(model.IngestErrHostBlocked, "host %q is loopback", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if err := CheckIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// CheckIP rejects loopback, link-local, private, and unspecified
// addresses.
func CheckIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return codedErr(model.IngestErrHostBlocked, "address %s is loopback", ip)
	case ip.IsPrivate():
		return codedErr(model.IngestErrHostBlocked, "address %s is private", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return codedErr(model.IngestErrHostBlocked, "address %s is link-local", ip)
	case ip.IsUnspecified():
		return codedErr(model.IngestErrHostBlocked, "address %s is unspecified", ip)
	}
	return nil
}

// Key computes the idempotency key for one ingest attempt. Two requests
// with the same project, cycle, canonical URL, and engine/limit
// versions converge on the same ingest run.
func Key(projectID string, cycle int, canonicalURL string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s", projectID, cycle, canonicalURL, LimitsVersion, EngineVersion)
	return hex.EncodeToString(h.Sum(nil))
}
