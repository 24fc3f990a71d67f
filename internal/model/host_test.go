package model

import (
	"errors"
	"testing"
)

func TestParseHostSpec(t *testing.T) {
	tests := []struct {
		name string
		spec string
		port int
		want HostSpec
	}{
		{"bare hostname", "example.org", 0, HostSpec{Hostname: "example.org", Port: 80}},
		{"http scheme", "http://example.org", 0, HostSpec{Hostname: "example.org", Port: 80}},
		{"https scheme", "https://example.org", 0, HostSpec{Hostname: "example.org", Port: 443, TLS: true}},
		{"uppercase scheme", "HTTPS://example.org", 0, HostSpec{Hostname: "example.org", Port: 443, TLS: true}},
		{"explicit port", "example.org:8080", 0, HostSpec{Hostname: "example.org", Port: 8080}},
		{"https with port and path", "https://example.org:8443/ignored", 0, HostSpec{Hostname: "example.org", Port: 8443, TLS: true}},
		{"override port", "https://example.org:8443", 9000, HostSpec{Hostname: "example.org", Port: 9000, TLS: true}},
		{"surrounding spaces", "  example.org  ", 0, HostSpec{Hostname: "example.org", Port: 80}},
		{"ipv6 literal", "http://[::1]:3000", 0, HostSpec{Hostname: "::1", Port: 3000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHostSpec(tt.spec, tt.port)
			if err != nil {
				t.Fatalf("ParseHostSpec(%q) error = %v", tt.spec, err)
			}
			if got != tt.want {
				t.Errorf("ParseHostSpec(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestParseHostSpec_Invalid(t *testing.T) {
	for _, spec := range []string{"", "   ", "http://", "https://:443", "example.org:notaport"} {
		t.Run(spec, func(t *testing.T) {
			_, err := ParseHostSpec(spec, 0)
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("ParseHostSpec(%q) error = %v, want ErrConfiguration", spec, err)
			}
		})
	}
}
