package locator_test

import (
	"context"
	"errors"
	"testing"

	"instance-reaper/src/locator"
	"instance-reaper/src/provider"
)

type mapResolver map[string]string

func (m mapResolver) LookupIPv4(_ context.Context, host string) (string, error) {
	if ip, ok := m[host]; ok {
		return ip, nil
	}
	return "", errors.New("no such host")
}

func TestResolve_SingleMatch(t *testing.T) {
	fake := provider.NewFake()
	fake.AddInstance("192.0.2.1", provider.Instance{ID: "i-1", State: provider.StateRunning, Zone: "z1"})
	l := locator.New(mapResolver{"a.example.org": "192.0.2.1"}, fake, nil)

	got, err := l.Resolve(context.Background(), "a.example.org")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ID != "i-1" || got.Zone != "z1" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolve_DNSFailureSkipsProvider(t *testing.T) {
	fake := provider.NewFake()
	l := locator.New(mapResolver{}, fake, nil)

	if _, err := l.Resolve(context.Background(), "missing.example.org"); err == nil {
		t.Fatalf("expected DNS error")
	}
	if len(fake.Calls) != 0 {
		t.Fatalf("provider queried after DNS failure: %v", fake.Calls)
	}
}

func TestResolve_NoMatch(t *testing.T) {
	fake := provider.NewFake()
	l := locator.New(mapResolver{"a.example.org": "192.0.2.1"}, fake, nil)

	_, err := l.Resolve(context.Background(), "a.example.org")
	if !errors.Is(err, locator.ErrNoInstance) {
		t.Fatalf("err = %v, want ErrNoInstance", err)
	}
}

func TestResolve_MultipleMatchesTakesFirst(t *testing.T) {
	fake := provider.NewFake()
	fake.AddInstance("192.0.2.1", provider.Instance{ID: "i-first", State: provider.StateStopped})
	fake.AddInstance("192.0.2.1", provider.Instance{ID: "i-second", State: provider.StateRunning})
	l := locator.New(mapResolver{"a.example.org": "192.0.2.1"}, fake, nil)

	got, err := l.Resolve(context.Background(), "a.example.org")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ID != "i-first" {
		t.Fatalf("got %s, want provider's first match i-first", got.ID)
	}
}

func TestResolve_ProviderError(t *testing.T) {
	fake := provider.NewFake()
	boom := errors.New("throttled")
	fake.FailOn[provider.OpFindInstancesByIP] = boom
	l := locator.New(mapResolver{"a.example.org": "192.0.2.1"}, fake, nil)

	if _, err := l.Resolve(context.Background(), "a.example.org"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped provider error", err)
	}
}
