package egress

import (
	"net"
	"net/http"
	"strings"

	"asciidocartisan/engine/internal/llm"
)

// AllowlistRoundTripper enforces HTTPS-only requests to a fixed host allowlist.
type AllowlistRoundTripper struct {
	Base      http.RoundTripper
	Allowlist map[string]bool
}

// NewAllowlistRoundTripper returns a RoundTripper that enforces a host allowlist.
func NewAllowlistRoundTripper(base http.RoundTripper, hosts []string) *AllowlistRoundTripper {
	allowlist := make(map[string]bool, len(hosts))
	for _, host := range hosts {
		allowlist[strings.ToLower(host)] = true
	}
	return &AllowlistRoundTripper{Base: base, Allowlist: allowlist}
}

func (rt *AllowlistRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || req.URL.Scheme != "https" {
		return nil, llm.ErrEgressBlocked
	}
	host := req.URL.Hostname()
	if host == "" {
		return nil, llm.ErrEgressBlocked
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil, llm.ErrEgressBlocked
	}
	if !rt.Allowlist[strings.ToLower(host)] {
		return nil, llm.ErrEgressBlocked
	}
	return base(rt.Base).RoundTrip(req)
}

// LoopbackRoundTripper only lets requests reach the local machine. Local
// model servers such as Ollama listen on plain HTTP, so both schemes pass.
type LoopbackRoundTripper struct {
	Base http.RoundTripper
}

func NewLoopbackRoundTripper(base http.RoundTripper) *LoopbackRoundTripper {
	return &LoopbackRoundTripper{Base: base}
}

func (rt *LoopbackRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, llm.ErrEgressBlocked
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, llm.ErrEgressBlocked
	}
	if !IsLoopbackHost(req.URL.Hostname()) {
		return nil, llm.ErrEgressBlocked
	}
	return base(rt.Base).RoundTrip(req)
}

func IsLoopbackHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func base(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}
