package ipc

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may call the API and attach views.
type originPolicy struct {
	allowed []string
}

func (p originPolicy) allows(origin string) (allowed bool, wildcard bool) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return false, false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false, false
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := parsed.Host
	normalized := scheme + "://" + host

	wildcardPresent := false
	for _, allowedOrigin := range p.allowed {
		allowedOrigin = strings.TrimSpace(allowedOrigin)
		if allowedOrigin == "" {
			continue
		}
		if allowedOrigin == "*" {
			wildcardPresent = true
			continue
		}
		if strings.EqualFold(allowedOrigin, origin) || strings.EqualFold(allowedOrigin, normalized) {
			return true, false
		}
		allowedURL, err := url.Parse(allowedOrigin)
		if err != nil || allowedURL.Scheme == "" || allowedURL.Host == "" {
			continue
		}
		if !strings.EqualFold(allowedURL.Scheme, scheme) {
			continue
		}
		if originHostsMatch(allowedURL.Host, host, scheme) {
			return true, false
		}
	}

	if wildcardPresent {
		return true, true
	}
	return false, false
}

// allowsWebSocket accepts same-host upgrades and listed origins. Requests
// without an Origin header come from non-browser clients.
func (p originPolicy) allowsWebSocket(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err == nil && parsed.Host != "" && strings.EqualFold(parsed.Host, r.Host) {
		return true
	}
	allowed, _ := p.allows(origin)
	return allowed
}

func (p originPolicy) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if allowed, wildcard := p.allows(origin); allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if !wildcard {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// originHostsMatch compares host:port combinations for origin matching.
// An allowed loopback host without a port matches any port.
func originHostsMatch(allowedHost, originHost, scheme string) bool {
	allowedName, allowedPort, allowedHasPort := splitHostPortLoose(allowedHost)
	originName, originPort, originHasPort := splitHostPortLoose(originHost)
	if allowedName == "" || originName == "" {
		return false
	}
	if !strings.EqualFold(allowedName, originName) {
		return false
	}

	originEffectivePort := originPort
	if !originHasPort {
		originEffectivePort = defaultPortForScheme(scheme)
	}

	if allowedHasPort {
		allowedEffectivePort := allowedPort
		if allowedEffectivePort == "" {
			allowedEffectivePort = defaultPortForScheme(scheme)
		}
		return allowedEffectivePort == originEffectivePort
	}

	if strings.EqualFold(allowedName, "localhost") {
		return true
	}
	if ip := net.ParseIP(allowedName); ip != nil && ip.IsLoopback() {
		return true
	}

	return originEffectivePort == defaultPortForScheme(scheme)
}

func splitHostPortLoose(hostport string) (host, port string, hasPort bool) {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return "", "", false
	}
	host, port, err := net.SplitHostPort(hostport)
	if err == nil {
		return host, port, true
	}
	if strings.HasPrefix(hostport, "[") && strings.HasSuffix(hostport, "]") {
		return strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]"), "", false
	}
	return hostport, "", false
}

func defaultPortForScheme(scheme string) string {
	if strings.EqualFold(strings.TrimSpace(scheme), "https") {
		return "443"
	}
	return "80"
}
