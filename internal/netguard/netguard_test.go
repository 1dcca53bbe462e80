package netguard

import (
	"context"
	"net"
	"testing"
)

type fakeResolver struct {
	addrs map[string][]net.IPAddr
}

func (f *fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return f.addrs[host], nil
}

func TestValidateURLRejectsNonHTTPScheme(t *testing.T) {
	g := New()
	if _, err := g.ValidateURL("file:///etc/passwd"); err == nil {
		t.Fatalf("expected rejection of non-http scheme")
	}
}

func TestValidateURLRejectsLiteralPrivateIP(t *testing.T) {
	g := New()
	for _, raw := range []string{
		"http://127.0.0.1/",
		"http://169.254.169.254/latest/meta-data/",
		"http://10.0.0.5/",
		"http://192.168.1.1/",
	} {
		if _, err := g.ValidateURL(raw); err == nil {
			t.Fatalf("expected rejection of %s", raw)
		}
	}
}

func TestValidateURLRejectsBlockedHostname(t *testing.T) {
	g := New()
	if _, err := g.ValidateURL("http://localhost/"); err == nil {
		t.Fatalf("expected rejection of localhost")
	}
	if _, err := g.ValidateURL("http://metadata.google.internal/"); err == nil {
		t.Fatalf("expected rejection of cloud metadata hostname")
	}
}

func TestValidateURLAllowsPublicHost(t *testing.T) {
	g := New()
	if _, err := g.ValidateURL("https://example.com/path"); err != nil {
		t.Fatalf("expected a public URL to pass: %v", err)
	}
}

func TestResolvePinnedRejectsWhenAllAddressesDisallowed(t *testing.T) {
	g := &Guard{Resolver: &fakeResolver{addrs: map[string][]net.IPAddr{
		"evil.example.com": {{IP: net.ParseIP("127.0.0.1")}, {IP: net.ParseIP("10.0.0.1")}},
	}}}
	if _, err := g.ResolvePinned(context.Background(), "evil.example.com"); err == nil {
		t.Fatalf("expected rejection when every resolved address is disallowed")
	}
}

func TestResolvePinnedAcceptsPublicAddress(t *testing.T) {
	g := &Guard{Resolver: &fakeResolver{addrs: map[string][]net.IPAddr{
		"good.example.com": {{IP: net.ParseIP("93.184.216.34")}},
	}}}
	ip, err := g.ResolvePinned(context.Background(), "good.example.com")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if ip.String() != "93.184.216.34" {
		t.Fatalf("unexpected resolved ip: %s", ip)
	}
}
