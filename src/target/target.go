package target

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Target represents a parsed provider target URI.
// Examples: ec2, ec2:eu-west-1, incus, incus:/var/lib/incus/unix.socket,
// incus:https://incus.example.org:8443
type Target struct {
	// Raw is the original input string.
	Raw string
	// Scheme is the provider scheme (ec2 or incus).
	Scheme string
	// Value is the scheme-specific value: the AWS region for ec2, the socket
	// path or https URL for incus. Empty selects the provider default.
	Value string
}

const (
	SchemeEC2   = "ec2"
	SchemeIncus = "incus"
)

// SupportedSchemes lists the schemes the parser accepts.
var SupportedSchemes = map[string]struct{}{
	SchemeEC2:   {},
	SchemeIncus: {},
}

// Parse parses a target URI like "ec2:us-east-1" into a Target structure.
func Parse(raw string) (Target, error) {
	t := Target{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return t, fmt.Errorf("target must not be empty; expected 'ec2[:region]' or 'incus[:address]'")
	}
	scheme, val, _ := strings.Cut(s, ":")
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	val = strings.TrimSpace(val)
	if _, ok := SupportedSchemes[scheme]; !ok {
		return t, fmt.Errorf("unsupported provider scheme %q", scheme)
	}
	t.Scheme = scheme
	t.Value = val

	switch scheme {
	case SchemeEC2:
		if strings.ContainsAny(val, "/: ") {
			return t, fmt.Errorf("invalid ec2 region %q", val)
		}
	case SchemeIncus:
		switch {
		case val == "":
		case strings.HasPrefix(val, "https://"):
			u, err := url.Parse(val)
			if err != nil || u.Host == "" {
				return t, fmt.Errorf("invalid incus URL %q", val)
			}
			t.Value = strings.TrimRight(val, "/")
		default:
			clean := filepath.Clean(val)
			if !filepath.IsAbs(clean) {
				return t, fmt.Errorf("incus socket must be an absolute path or https URL: %q", val)
			}
			t.Value = clean
		}
	}
	return t, nil
}

// IsSupported returns true if the scheme is recognized.
func IsSupported(scheme string) bool {
	_, ok := SupportedSchemes[strings.ToLower(scheme)]
	return ok
}

// String returns a canonical string form of the target.
func (t Target) String() string {
	if t.Scheme == "" {
		return t.Raw
	}
	if t.Value == "" {
		return t.Scheme
	}
	return t.Scheme + ":" + t.Value
}

// StateLabel is the heading of the instance state column for this provider.
func (t Target) StateLabel() string {
	switch t.Scheme {
	case SchemeEC2:
		return "EC2 state"
	case SchemeIncus:
		return "Incus state"
	default:
		return "state"
	}
}
