// Package locator maps a hostname to the provider instance that currently
// holds the hostname's IPv4 address.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"instance-reaper/src/logging"
	"instance-reaper/src/provider"
)

// ErrNoInstance is returned when no provider instance holds the address.
var ErrNoInstance = errors.New("no instance holds the address")

// Resolver resolves a hostname to a single IPv4 address.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (string, error)
}

// NetResolver resolves through the system resolver.
type NetResolver struct {
	R *net.Resolver
}

func (n NetResolver) LookupIPv4(ctx context.Context, host string) (string, error) {
	r := n.R
	if r == nil {
		r = net.DefaultResolver
	}
	ips, err := r.LookupIP(ctx, "ip4", host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no IPv4 address for %s", host)
	}
	return ips[0].String(), nil
}

// Locator finds the instance behind a hostname.
type Locator struct {
	resolver Resolver
	client   provider.Client
	log      *slog.Logger
}

func New(resolver Resolver, client provider.Client, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Locator{resolver: resolver, client: client, log: logger}
}

// Resolve returns the instance holding hostname's address. DNS failure and
// provider errors are returned wrapped; no match returns ErrNoInstance.
// When several instances match, the first in provider order wins; the
// provider defines no ordering, so the choice is arbitrary.
func (l *Locator) Resolve(ctx context.Context, hostname string) (provider.Instance, error) {
	ip, err := l.resolver.LookupIPv4(ctx, hostname)
	if err != nil {
		return provider.Instance{}, fmt.Errorf("resolve %s: %w", hostname, err)
	}
	insts, err := l.client.FindInstancesByIP(ctx, ip)
	if err != nil {
		return provider.Instance{}, fmt.Errorf("find instance for %s (%s): %w", hostname, ip, err)
	}
	switch len(insts) {
	case 0:
		return provider.Instance{}, fmt.Errorf("%s (%s): %w", hostname, ip, ErrNoInstance)
	case 1:
	default:
		l.log.Debug("several instances hold the address; using the first", "hostname", hostname, "ip", ip, "count", len(insts), "instance", insts[0].ID)
	}
	return insts[0], nil
}
