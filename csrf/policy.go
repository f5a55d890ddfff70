package csrf

import (
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/jmcleod/ironsession/internal/util"
)

// Policy decides which requests are exempt from CSRF checks.
type Policy struct {
	// Enabled false exempts every request.
	Enabled bool
	// Skip lists exempt paths. A POST whose Referer path is listed is
	// exempt as well.
	Skip []string
	// CaseInsensitive compares paths after lower-casing them.
	CaseInsensitive bool
}

func DefaultPolicy() Policy {
	return Policy{Enabled: true}
}

// Protected reports whether r is subject to CSRF checks.
func (p Policy) Protected(r *http.Request) bool {
	if !p.Enabled {
		return false
	}
	if p.skipped(r.URL.Path) {
		return false
	}
	if r.Method == http.MethodPost {
		if ref := r.Referer(); ref != "" {
			if u, err := url.Parse(ref); err == nil && p.skipped(u.Path) {
				return false
			}
		}
	}
	return true
}

func (p Policy) skipped(reqPath string) bool {
	if len(p.Skip) == 0 {
		return false
	}
	target := p.normalize(reqPath)
	return slices.ContainsFunc(p.Skip, func(s string) bool {
		return p.normalize(s) == target
	})
}

// normalize puts a path in NFC form, cleans it and roots it at "/".
func (p Policy) normalize(s string) string {
	s = util.Normalize(s)
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	s = path.Clean(s)
	if p.CaseInsensitive {
		s = strings.ToLower(s)
	}
	return s
}
