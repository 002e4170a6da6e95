package egress

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	bridgeerrors "github.com/mirkobrombin/go-ipcbridge/v1/errors"
	"github.com/mirkobrombin/go-ipcbridge/v1/metrics"
)

// GuardedDialer returns a copy of d that refuses to connect to private
// addresses. The check runs on the address actually dialed, after
// resolution, so a host re-resolving to a private address is still blocked.
func GuardedDialer(d *net.Dialer) *net.Dialer {
	g := *d
	g.Control = func(network, address string, _ syscall.RawConn) error {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return fmt.Errorf("%w: %v", bridgeerrors.ErrInvalidURL, err)
		}
		addr, err := netip.ParseAddr(host)
		if err != nil {
			return fmt.Errorf("%w: %v", bridgeerrors.ErrInvalidURL, err)
		}
		if IsPrivate(addr.Unmap().WithZone("").String()) {
			metrics.EgressRejectedCounter.WithLabelValues("dial").Inc()
			return bridgeerrors.ErrPrivateAddress
		}
		return nil
	}
	return &g
}

// NewClient returns an HTTP client whose connections go through
// GuardedDialer. Proxies are disabled since they would hide the final address.
func NewClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	tr.DialContext = GuardedDialer(&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(tr),
	}
}
