package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ErrBlockedAddress marks a URL, host or IP refused by an SSRFValidator
var ErrBlockedAddress = errors.New("address blocked")

var metadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"),
	net.ParseIP("fd00:ec2::254"),
}

// SSRFConfig controls which destinations outbound tool requests may reach
type SSRFConfig struct {
	// AllowedHosts restricts requests to these hostnames when non-empty
	AllowedHosts []string
	// AllowedSchemes defaults to http and https
	AllowedSchemes []string

	AllowLocalhost  bool
	BlockPrivateIPs bool
	BlockMetadata   bool
	BlockLinkLocal  bool
}

// DefaultSSRFConfig allows public addresses and loopback
func DefaultSSRFConfig() SSRFConfig {
	return SSRFConfig{
		AllowedSchemes:  []string{"http", "https"},
		AllowLocalhost:  true,
		BlockPrivateIPs: true,
		BlockMetadata:   true,
		BlockLinkLocal:  true,
	}
}

// SSRFValidator checks outbound destinations against an SSRFConfig
type SSRFValidator struct {
	config       SSRFConfig
	allowedHosts map[string]bool
	lookupIP     func(ctx context.Context, host string) ([]net.IP, error)
}

func NewSSRFValidator(config SSRFConfig) *SSRFValidator {
	if len(config.AllowedSchemes) == 0 {
		config.AllowedSchemes = []string{"http", "https"}
	}
	allowed := make(map[string]bool, len(config.AllowedHosts))
	for _, host := range config.AllowedHosts {
		allowed[strings.ToLower(host)] = true
	}
	return &SSRFValidator{
		config:       config,
		allowedHosts: allowed,
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		},
	}
}

// ValidateURL checks the scheme and host of rawURL, resolving the host
func (v *SSRFValidator) ValidateURL(rawURL string) error {
	parsed, err := v.CheckURL(rawURL)
	if err != nil {
		return err
	}
	return v.ValidateHost(parsed.Hostname())
}

// CheckURL checks the scheme, the allowlist and literal IP hosts without
// any DNS lookup. Names are checked again when the secure transport dials.
func (v *SSRFValidator) CheckURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if !slices.ContainsFunc(v.config.AllowedSchemes, func(s string) bool { return strings.EqualFold(s, parsed.Scheme) }) {
		return nil, fmt.Errorf("%w: invalid URL scheme %q (allowed: %v)", ErrBlockedAddress, parsed.Scheme, v.config.AllowedSchemes)
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrBlockedAddress)
	}
	if len(v.allowedHosts) > 0 && !v.allowedHosts[strings.ToLower(host)] {
		return nil, fmt.Errorf("%w: host not in allowlist: %s", ErrBlockedAddress, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if err := v.ValidateIP(ip); err != nil {
			return nil, err
		}
	}
	return parsed, nil
}

// ValidateHost checks host against the allowlist and every address it
// resolves to.
func (v *SSRFValidator) ValidateHost(host string) error {
	_, err := v.resolve(context.Background(), host)
	return err
}

// resolve returns the addresses host may be reached at. Every resolved
// address must pass, so a name with one private record is refused.
func (v *SSRFValidator) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrBlockedAddress)
	}
	if len(v.allowedHosts) > 0 && !v.allowedHosts[strings.ToLower(host)] {
		return nil, fmt.Errorf("%w: host not in allowlist: %s", ErrBlockedAddress, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, v.ValidateIP(ip)
	}
	if strings.EqualFold(host, "localhost") {
		if !v.config.AllowLocalhost {
			return nil, fmt.Errorf("%w: loopback addresses not allowed: %s", ErrBlockedAddress, host)
		}
		return []net.IP{net.IPv4(127, 0, 0, 1)}, nil
	}

	ips, err := v.lookupIP(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, ip := range ips {
		if err := v.ValidateIP(ip); err != nil {
			return nil, fmt.Errorf("%s: %w", host, err)
		}
	}
	return ips, nil
}

// ValidateIP checks a single address against the config
func (v *SSRFValidator) ValidateIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		if v.config.AllowLocalhost {
			return nil
		}
		return fmt.Errorf("%w: loopback addresses not allowed: %s", ErrBlockedAddress, ip)
	case v.config.BlockMetadata && slices.ContainsFunc(metadataIPs, ip.Equal):
		return fmt.Errorf("%w: metadata service address: %s", ErrBlockedAddress, ip)
	case v.config.BlockPrivateIPs && ip.IsPrivate():
		return fmt.Errorf("%w: private IP addresses not allowed: %s", ErrBlockedAddress, ip)
	case v.config.BlockLinkLocal && (ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()):
		return fmt.Errorf("%w: link-local addresses not allowed: %s", ErrBlockedAddress, ip)
	case ip.IsMulticast() || ip.IsUnspecified():
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
	}
	return nil
}

// CreateSecureTransport returns a transport that resolves and checks each
// destination itself and dials the checked address, so a DNS answer cannot
// change between validation and connect.
func (v *SSRFValidator) CreateSecureTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("connection blocked: %w", err)
			}
			ips, err := v.resolve(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("connection blocked: %w", err)
			}
			var dialErr error
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
				if err == nil {
					return conn, nil
				}
				dialErr = err
			}
			return nil, dialErr
		},
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
