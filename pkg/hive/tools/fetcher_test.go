package tools

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func mustParseIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("invalid test IP %q", s)
	}
	return ip
}

func TestFetcherRejectsNonHTTPScheme(t *testing.T) {
	f := newSafeFetcher()
	_, _, err := f.get(context.Background(), "file:///etc/passwd")
	if err == nil {
		t.Fatalf("expected error for non-http scheme")
	}
}

func TestFetcherEnforcesBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		big := make([]byte, fetchMaxBytes+1024)
		w.Write(big)
	}))
	defer srv.Close()

	f := newSafeFetcher()
	_, _, err := f.get(context.Background(), srv.URL)
	if err == nil {
		t.Fatalf("expected error for oversized response")
	}
}

func TestFetcherReturnsBodyAndContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := newSafeFetcher()
	body, ct, err := f.get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get() error: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("body = %q, want hello", body)
	}
	if ct != "text/plain" {
		t.Errorf("content-type = %q, want text/plain", ct)
	}
}

func TestIsBlockedAddrRejectsPrivateRanges(t *testing.T) {
	for _, addr := range []string{"127.0.0.1", "10.0.0.5", "192.168.1.1", "169.254.1.1", "::1", "fe80::1"} {
		ip := mustParseIP(t, addr)
		if !isBlockedAddr(ip) {
			t.Errorf("expected %s to be blocked", addr)
		}
	}
}

func TestIsBlockedAddrAllowsPublicAddress(t *testing.T) {
	ip := mustParseIP(t, "93.184.216.34")
	if isBlockedAddr(ip) {
		t.Errorf("expected public address to be allowed")
	}
}
