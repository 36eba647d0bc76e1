// Package scope implements the ScopeHarness (C3): it turns external identity
// assertions, carried as request headers, into a types.Scope and enforces
// matching against stored resources. Grounded on the original server's
// header-derived SessionScope and its fail-closed dependency.
package scope

import (
	"net/http"
	"strings"

	"github.com/cognition-sh/cognition/internal/cogerror"
	"github.com/cognition-sh/cognition/pkg/types"
)

// Config configures a Harness.
type Config struct {
	// Keys is the ordered list of scope keys the server recognizes, e.g.
	// ["user", "project"].
	Keys []string
	// Enabled gates fail-closed enforcement. When false, scope is still
	// extracted and used for storage filtering, but missing headers are
	// never rejected.
	Enabled bool
}

// Harness extracts and enforces scope for incoming requests.
type Harness struct {
	cfg Config
}

// New creates a Harness.
func New(cfg Config) *Harness {
	return &Harness{cfg: cfg}
}

// headerName returns the X-Cognition-Scope-<Title> header for key, with
// underscores replaced by hyphens and each segment capitalized to match
// Go's canonical textproto header form.
func headerName(key string) string {
	parts := strings.Split(strings.ReplaceAll(key, "_", "-"), "-")
	for i, p := range parts {
		if len(p) > 0 {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return "X-Cognition-Scope-" + strings.Join(parts, "-")
}

// Extract builds a Scope from header, dropping configured keys whose header
// value is empty or absent.
func (h *Harness) Extract(header http.Header) types.Scope {
	result := make(types.Scope)
	for _, key := range h.cfg.Keys {
		if v := header.Get(headerName(key)); v != "" {
			result[key] = v
		}
	}
	return result
}

// Enforce validates extracted against the harness's configuration. When
// scoping is disabled, Enforce never rejects. When enabled, every configured
// key must be present in extracted or the request is rejected with
// Forbidden, naming the missing headers.
func (h *Harness) Enforce(extracted types.Scope) error {
	if !h.cfg.Enabled {
		return nil
	}

	var missing []string
	for _, key := range h.cfg.Keys {
		if _, ok := extracted[key]; !ok {
			missing = append(missing, headerName(key))
		}
	}
	if len(missing) > 0 {
		return cogerror.Forbidden("missing required scope headers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ExtractAndEnforce is the usual entry point: extract scope from header,
// enforce the harness's policy, and return the extracted scope on success.
func (h *Harness) ExtractAndEnforce(header http.Header) (types.Scope, error) {
	extracted := h.Extract(header)
	if err := h.Enforce(extracted); err != nil {
		return nil, err
	}
	return extracted, nil
}

// CheckAccess reports whether caller may see a resource carrying
// storedScopes. Per the harness's contract, a mismatch is reported as
// NotFound (never Forbidden) so a session's existence never leaks across
// scopes.
func CheckAccess(caller, storedScopes types.Scope) error {
	if !caller.Matches(storedScopes) {
		return cogerror.NotFound("resource not found")
	}
	return nil
}
