package discovery

import "testing"

func TestDefaultAddrs(t *testing.T) {
	if got := DefaultGRPCAddr(ServiceTriggers); got != "triggers:8089" {
		t.Fatalf("DefaultGRPCAddr(triggers) = %q", got)
	}
	if got := DefaultTCPAddr(ServiceRedis); got != "redis:6379" {
		t.Fatalf("DefaultTCPAddr(redis) = %q", got)
	}
	if got := DefaultGRPCAddr("unknown"); got != "" {
		t.Fatalf("expected empty addr for unknown service, got %q", got)
	}
}

func TestGRPCPort(t *testing.T) {
	if got := GRPCPort(" triggers "); got != 8089 {
		t.Fatalf("GRPCPort(triggers) = %d, want 8089", got)
	}
	if got := GRPCPort("redis"); got != 0 {
		t.Fatalf("GRPCPort(redis) = %d, want 0", got)
	}
}

func TestOrDefaultTCPAddr(t *testing.T) {
	if got := OrDefaultTCPAddr(" cache:7000 ", ServiceRedis); got != "cache:7000" {
		t.Fatalf("expected explicit addr to win, got %q", got)
	}
	if got := OrDefaultTCPAddr("", ServiceRedis); got != "redis:6379" {
		t.Fatalf("expected default redis addr, got %q", got)
	}
}

func TestOrDefaultGRPCAddr(t *testing.T) {
	if got := OrDefaultGRPCAddr("", ServiceTriggers); got != "triggers:8089" {
		t.Fatalf("expected default triggers addr, got %q", got)
	}
	if got := OrDefaultGRPCAddr("localhost:9000", ServiceTriggers); got != "localhost:9000" {
		t.Fatalf("expected explicit addr to win, got %q", got)
	}
}
