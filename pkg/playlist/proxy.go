package playlist

import (
	"net/url"
	"strings"
	"sync"
)

const wellKnownPrefix = "/.well-known/"

// Rewriter routes resolved segment URLs through the edge proxy and
// remembers every upstream host it has routed.
type Rewriter struct {
	proxyBase string

	mu    sync.RWMutex
	hosts map[string]struct{}
}

// NewRewriter creates a rewriter for an already derived proxy base.
// An empty base disables rewriting.
func NewRewriter(proxyBase string) *Rewriter {
	return &Rewriter{
		proxyBase: strings.TrimSuffix(proxyBase, "/"),
		hosts:     make(map[string]struct{}),
	}
}

// Enabled reports whether URLs are rewritten at all
func (rw *Rewriter) Enabled() bool {
	return rw.ProxyBase() != ""
}

// Routes reports whether a URL on host has been rewritten through the proxy
func (rw *Rewriter) Routes(host string) bool {
	if rw == nil {
		return false
	}
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	_, ok := rw.hosts[strings.ToLower(host)]
	return ok
}

// ProxyBase returns the base the rewriter points at
func (rw *Rewriter) ProxyBase() string {
	if rw == nil {
		return ""
	}
	return rw.proxyBase
}

// Rewrite returns {proxyBase}/proxy?url={escaped target}
func (rw *Rewriter) Rewrite(target string) string {
	if rw == nil || rw.proxyBase == "" {
		return target
	}
	if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
		rw.mu.Lock()
		rw.hosts[strings.ToLower(u.Hostname())] = struct{}{}
		rw.mu.Unlock()
	}
	return rw.proxyBase + "/proxy?url=" + url.QueryEscape(target)
}

// DeriveProxyBase maps a control-plane origin to its public edge origin.
//
// The host's cloudSuffix is swapped for edgeSuffix, a well-known config path is dropped and
// the trailing slash is removed. Origins that do not parse as absolute URLs fall back to a
// plain substring replacement.
func DeriveProxyBase(origin, cloudSuffix, edgeSuffix string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimSuffix(replaceSuffix(origin, cloudSuffix, edgeSuffix), "/")
	}

	if cloudSuffix != "" && strings.HasSuffix(u.Hostname(), cloudSuffix) {
		host := strings.TrimSuffix(u.Hostname(), cloudSuffix) + edgeSuffix
		if port := u.Port(); port != "" {
			host += ":" + port
		}
		u.Host = host
	}

	if i := strings.Index(u.Path, wellKnownPrefix); i >= 0 {
		u.Path = u.Path[:i]
	}
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	return strings.TrimSuffix(u.String(), "/")
}

func replaceSuffix(s, from, to string) string {
	if from == "" {
		return s
	}
	return strings.ReplaceAll(s, from, to)
}
