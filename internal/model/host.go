package model

import (
	"net/url"
	"strconv"
	"strings"
)

// ParseHostSpec normalizes a host specifier such as "example.org" or
// "https://example.org:8443". Specifiers without a scheme are treated as
// http; the scheme is matched case-insensitively. port, when positive,
// overrides the resolved port.
func ParseHostSpec(spec string, port int) (HostSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return HostSpec{}, Errorf(KindConfiguration, "resolve host", "empty host specifier")
	}

	raw := spec
	if !hasScheme(raw) {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return HostSpec{}, NewError(KindConfiguration, "resolve host",
			"unable to parse host "+strconv.Quote(spec), err)
	}
	if u.Hostname() == "" {
		return HostSpec{}, Errorf(KindConfiguration, "resolve host",
			"unable to parse hostname from %q, possibly missing protocol://", spec)
	}

	host := HostSpec{
		Hostname: u.Hostname(),
		TLS:      u.Scheme == "https",
	}

	switch {
	case port > 0:
		host.Port = port
	case u.Port() != "":
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return HostSpec{}, NewError(KindConfiguration, "resolve host",
				"invalid port in "+strconv.Quote(spec), err)
		}
		host.Port = p
	case host.TLS:
		host.Port = 443
	default:
		host.Port = 80
	}

	return host, nil
}

func hasScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
