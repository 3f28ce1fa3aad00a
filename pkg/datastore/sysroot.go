package datastore

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseError reports a malformed datastore sysroot URI.
type ParseError struct {
	URI    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid datastore sysroot %q: %s", e.URI, e.Reason)
}

// ParseSysroot splits a sysroot URI of the form scheme://bucket[/prefix...]
// into its bucket and prefix. A trailing slash is stripped and nested path
// segments are preserved as a single prefix string.
func ParseSysroot(sysroot string) (bucket, prefix string, err error) {
	u, err := url.Parse(sysroot)
	if err != nil {
		return "", "", &ParseError{URI: sysroot, Reason: err.Error()}
	}
	if u.Scheme == "" {
		return "", "", &ParseError{URI: sysroot, Reason: "missing scheme"}
	}
	if u.Host == "" {
		return "", "", &ParseError{URI: sysroot, Reason: "missing bucket"}
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}
