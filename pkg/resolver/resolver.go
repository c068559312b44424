package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrResolution is wrapped by every failed lookup.
var ErrResolution = errors.New("hostname resolution failed")

// Service names the relay service a hostname belongs to.
type Service string

const (
	STUN Service = "stun"
	TURN Service = "turn"
)

// LookupFunc resolves a hostname to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Result is delivered once per requested hostname.
type Result struct {
	Service Service
	Host    string
	Address string
	Err     error
}

type Resolver struct {
	lookup  LookupFunc
	timeout time.Duration
}

// New creates a resolver. A nil lookup uses the system resolver.
func New(lookup LookupFunc, timeout time.Duration) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{lookup: lookup, timeout: timeout}
}

// ResolveAsync resolves every host in the background and posts one Result per host into results.
// Empty hosts are skipped. Posting stops when ctx is done.
func (r *Resolver) ResolveAsync(ctx context.Context, hosts map[Service]string, results chan<- Result) {
	for service, host := range hosts {
		if host == "" {
			continue
		}
		go func(service Service, host string) {
			result := r.Resolve(ctx, service, host)
			select {
			case results <- result:
			case <-ctx.Done():
			}
		}(service, host)
	}
}

// Resolve looks up a single host. A host carrying a port keeps the port in the result address.
func (r *Resolver) Resolve(ctx context.Context, service Service, host string) Result {
	name, port := SplitHost(host)
	result := Result{Service: service, Host: host}

	if ip := net.ParseIP(name); ip != nil {
		result.Address = joinPort(ip.String(), port)
		return result
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addresses, err := r.lookup(lookupCtx, name)
	if err == nil && len(addresses) == 0 {
		err = fmt.Errorf("no addresses for %s", name)
	}
	if err != nil {
		result.Err = fmt.Errorf("%w: %s %s: %w", ErrResolution, service, host, err)
		logrus.WithFields(logrus.Fields{
			"component": "resolver",
			"service":   service,
			"host":      host,
		}).WithError(err).Error("Error looking up hostname")
		return result
	}

	result.Address = joinPort(addresses[0], port)
	logrus.WithFields(logrus.Fields{
		"component": "resolver",
		"service":   service,
		"host":      host,
		"address":   result.Address,
	}).Info("Resolved hostname")
	return result
}

// SplitHost splits an optional port off a host. The port is empty if none was given.
func SplitHost(host string) (string, string) {
	name, port, err := net.SplitHostPort(host)
	if err != nil {
		return host, ""
	}
	return name, port
}

func joinPort(address string, port string) string {
	if port == "" {
		return address
	}
	return net.JoinHostPort(address, port)
}
