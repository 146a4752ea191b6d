package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
)

// securityMetrics tracks security-related events.
type securityMetrics struct {
	rateLimitHits      int64
	suspiciousRequests int64
}

// trustedProxies defines networks that are trusted to set forwarding headers.
var trustedProxies = []*net.IPNet{
	parsecidr("127.0.0.0/8"),    // localhost
	parsecidr("10.0.0.0/8"),     // private networks
	parsecidr("172.16.0.0/12"),  // private networks
	parsecidr("192.168.0.0/16"), // private networks
}

func parsecidr(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

func isTrustedProxy(ip net.IP) bool {
	for _, network := range trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// extractClientIP returns the peer address, or the forwarded client address
// when the peer is a trusted proxy.
func extractClientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}

	parsedDirectIP := net.ParseIP(directIP)
	if parsedDirectIP == nil || !isTrustedProxy(parsedDirectIP) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if clientIP := strings.TrimSpace(first); net.ParseIP(clientIP) != nil {
			return clientIP
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

var (
	probePatterns = []string{
		"../", "..\\", ".env", ".git", ".ssh", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", "etc/passwd", "cmd.exe",
	}
	injectionPatterns = []string{"eval(", "javascript:", "<script", "union select"}
	scannerAgents     = []string{"sqlmap", "nmap", "nikto", "gobuster", "dirb", "scanner"}
)

// suspicionRule inspects one aspect of a request. lowered holds the
// lower-cased path and raw query.
type suspicionRule struct {
	name  string
	match func(r *http.Request, lowered string) bool
}

var suspicionRules = []suspicionRule{
	{"probe", func(_ *http.Request, lowered string) bool { return containsAny(lowered, probePatterns) }},
	{"injection", func(_ *http.Request, lowered string) bool { return containsAny(lowered, injectionPatterns) }},
	{"scanner_agent", func(r *http.Request, _ string) bool {
		return containsAny(strings.ToLower(r.Header.Get("User-Agent")), scannerAgents)
	}},
	{"method", func(r *http.Request, _ string) bool {
		switch r.Method {
		case "TRACE", "TRACK", "DEBUG", "CONNECT":
			return true
		}
		return false
	}},
	{"long_url", func(r *http.Request, _ string) bool { return len(r.URL.String()) > 2048 }},
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// detectSuspiciousRequest names the first rule a request trips, or "" when
// none does. Flagged requests are still served.
func detectSuspiciousRequest(r *http.Request, metrics *securityMetrics) string {
	lowered := strings.ToLower(r.URL.Path + "?" + r.URL.RawQuery)
	for _, rule := range suspicionRules {
		if rule.match(r, lowered) {
			if metrics != nil {
				atomic.AddInt64(&metrics.suspiciousRequests, 1)
			}
			return rule.name
		}
	}
	return ""
}

// applySecurityHeaders sets the headers every API response carries.
func applySecurityHeaders(h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")
}
