package openrouter

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	defaultBaseURL = "https://openrouter.ai"

	baseURLSetting = "OPENROUTER_BASE_URL"
	hostsSetting   = "OPENROUTER_ALLOWED_HOSTS"
)

var defaultAllowedHosts = map[string]struct{}{
	"openrouter.ai":     {},
	"api.openrouter.ai": {},
}

// BaseURLError reports a base URL the API key must not be sent to.
type BaseURLError struct {
	URL    string
	Reason string
}

func (e *BaseURLError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", baseURLSetting, e.URL, e.Reason)
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// ValidateBaseURL accepts only bare https URLs whose host is allow-listed.
// An empty allow-list means the public OpenRouter hosts.
func ValidateBaseURL(baseURL string, allowedHosts []string) error {
	baseURL = normalizeBaseURL(baseURL)
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", baseURLSetting, err)
	}
	if reason := shapeProblem(u); reason != "" {
		return &BaseURLError{URL: baseURL, Reason: reason}
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := allowedHostSet(allowedHosts)[host]; !ok {
		return &BaseURLError{URL: baseURL, Reason: fmt.Sprintf("host %q is not in %s", host, hostsSetting)}
	}
	return nil
}

func shapeProblem(u *url.URL) string {
	switch {
	case !u.IsAbs() || u.Host == "":
		return "absolute URL with host is required"
	case u.User != nil:
		return "userinfo is not allowed"
	case u.RawQuery != "" || u.Fragment != "":
		return "query and fragment are not allowed"
	case u.Hostname() == "":
		return "host is required"
	case !strings.EqualFold(u.Scheme, "https"):
		return "https is required"
	}
	return ""
}

// allowedHostSet lower-cases entries and strips schemes, ports and slashes.
func allowedHostSet(allowedHosts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		v := strings.ToLower(strings.TrimSpace(h))
		v = strings.TrimPrefix(v, "http://")
		v = strings.TrimPrefix(v, "https://")
		v = strings.Trim(v, "/")
		v, _, _ = strings.Cut(v, ":")
		if v != "" {
			out[v] = struct{}{}
		}
	}
	if len(out) == 0 {
		return defaultAllowedHosts
	}
	return out
}
