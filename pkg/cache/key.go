package cache

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/Sternrassler/okquery/pkg/credentials"
	"golang.org/x/net/idna"
)

// CacheKey represents a unique identifier for a cached response.
type CacheKey struct {
	// Method is the HTTP method (only GET responses are cached today)
	Method string

	// Host is the target host including port (e.g., "api.github.com")
	Host string

	// Endpoint is the request path (e.g., "/repos/square/okhttp/issues")
	Endpoint string

	// QueryParams are the query parameters (e.g., {"page": "2"})
	QueryParams url.Values

	// Token is the credential tag name; responses for different credentials never mix
	Token string
}

// KeyForRequest builds the cache key for an outgoing request.
func KeyForRequest(req *http.Request) CacheKey {
	return CacheKey{
		Method:      req.Method,
		Host:        req.URL.Host,
		Endpoint:    req.URL.Path,
		QueryParams: req.URL.Query(),
		Token:       credentials.FromRequest(req).String(),
	}
}

// String generates a deterministic cache key string.
// Format: okquery:METHOD:host:endpoint:query1=val1:token=name
//
// Example:
//
//	okquery:GET:api.github.com:repos/square/okhttp/issues:page=2:token=default
func (k CacheKey) String() string {
	parts := []string{"okquery"}

	method := strings.ToUpper(k.Method)
	if method == "" {
		method = http.MethodGet
	}
	parts = append(parts, method)

	if k.Host != "" {
		parts = append(parts, normalizeHost(k.Host))
	}

	// Add endpoint (normalize path)
	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Add query params (sorted for determinism, all values kept)
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			for _, value := range k.QueryParams[key] {
				parts = append(parts, fmt.Sprintf("%s=%s", key, value))
			}
		}
	}

	if k.Token != "" {
		parts = append(parts, "token="+k.Token)
	}

	return strings.Join(parts, ":")
}

// normalizeHost lowercases host and converts internationalized names to
// punycode so both spellings share one entry. The port is kept.
func normalizeHost(hostport string) string {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = hostport, ""
	}
	host = strings.ToLower(host)
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		host = puny
	}
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	return host
}
