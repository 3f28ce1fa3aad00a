package datastore

import (
	"errors"
	"testing"
)

func TestParseSysroot(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantPrefix string
	}{
		{"basic", "s3://my-bucket/metaflow", "my-bucket", "metaflow"},
		{"nested", "s3://my-bucket/path/to/metaflow", "my-bucket", "path/to/metaflow"},
		{"trailing slash", "s3://my-bucket/metaflow/", "my-bucket", "metaflow"},
		{"bucket only", "s3://my-bucket", "my-bucket", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, prefix, err := ParseSysroot(tt.uri)
			if err != nil {
				t.Fatalf("ParseSysroot(%q) failed: %v", tt.uri, err)
			}
			if bucket != tt.wantBucket || prefix != tt.wantPrefix {
				t.Errorf("got (%q, %q), want (%q, %q)", bucket, prefix, tt.wantBucket, tt.wantPrefix)
			}
		})
	}
}

func TestParseSysroot_Malformed(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"no scheme", "my-bucket/metaflow"},
		{"no bucket", "s3://"},
		{"empty", ""},
		{"garbage", "://///"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseSysroot(tt.uri)
			if err == nil {
				t.Fatalf("ParseSysroot(%q) succeeded, want error", tt.uri)
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("error type = %T, want *ParseError", err)
			}
		})
	}
}
