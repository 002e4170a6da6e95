package egress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"strings"

	bridgeerrors "github.com/mirkobrombin/go-ipcbridge/v1/errors"
	"github.com/mirkobrombin/go-ipcbridge/v1/metrics"
)

// Resolver resolves a host name to its addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Validator checks URLs before a privileged fetch.
type Validator struct {
	resolver Resolver
	log      *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithResolver replaces the platform resolver.
func WithResolver(r Resolver) Option {
	return func(v *Validator) { v.resolver = r }
}

// WithLogger sets the logger receiving the detailed rejection reasons.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.log = l }
}

// NewValidator returns a Validator using net.DefaultResolver unless told otherwise.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		resolver: net.DefaultResolver,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

const secureScheme = "https://"

// ValidateURL accepts rawURL only if it uses https and its host resolves to a
// public address, which is returned. The address is not pinned: a later fetch
// resolves the host again.
func (v *Validator) ValidateURL(ctx context.Context, rawURL string) (netip.Addr, error) {
	if !strings.HasPrefix(rawURL, secureScheme) {
		return netip.Addr{}, v.reject("scheme", rawURL, errors.New("scheme is not https"))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return netip.Addr{}, v.reject("parse", rawURL, err)
	}
	if u.Scheme != "https" {
		return netip.Addr{}, v.reject("scheme", rawURL, fmt.Errorf("unexpected scheme %q", u.Scheme))
	}
	host := u.Hostname()
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return netip.Addr{}, v.reject("parse", rawURL, errors.New("empty host"))
	}

	addrs, err := v.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, v.reject("resolve", host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, v.reject("resolve", host, errors.New("no addresses"))
	}
	addr := addrs[0].Unmap().WithZone("")
	if IsPrivate(addr.String()) {
		return netip.Addr{}, v.reject("private", host, fmt.Errorf("resolved to %s", addr))
	}
	return addr, nil
}

func (v *Validator) reject(reason, subject string, cause error) error {
	metrics.EgressRejectedCounter.WithLabelValues(reason).Inc()
	v.log.Warn("egress: URL validation failed", "reason", reason, "subject", subject, "err", cause)
	if reason == "private" {
		return bridgeerrors.ErrPrivateAddress
	}
	return bridgeerrors.ErrInvalidURL
}

var defaultValidator = NewValidator()

// ValidateURL validates rawURL with the platform resolver and no logging.
func ValidateURL(ctx context.Context, rawURL string) error {
	_, err := defaultValidator.ValidateURL(ctx, rawURL)
	return err
}
