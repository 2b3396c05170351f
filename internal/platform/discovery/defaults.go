// Package discovery centralizes in-network address conventions.
package discovery

import (
	"strconv"
	"strings"
)

const (
	// ServiceTriggers is the trigger worker health gRPC identity.
	ServiceTriggers = "triggers"
	// ServiceRedis is the Redis realtime log identity.
	ServiceRedis = "redis"
)

var grpcPorts = map[string]int{
	ServiceTriggers: 8089,
}

var tcpPorts = map[string]int{
	ServiceRedis: 6379,
}

// DefaultGRPCAddr returns the canonical in-network gRPC address for a service.
func DefaultGRPCAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), grpcPorts)
}

// DefaultTCPAddr returns the canonical in-network address for a raw TCP dependency.
func DefaultTCPAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), tcpPorts)
}

// GRPCPort returns the conventional gRPC port for a service, or 0.
func GRPCPort(service string) int {
	return grpcPorts[strings.TrimSpace(service)]
}

// OrDefaultGRPCAddr returns value when set, otherwise the service convention.
func OrDefaultGRPCAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultGRPCAddr(service)
}

// OrDefaultTCPAddr returns value when set, otherwise the service convention.
func OrDefaultTCPAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultTCPAddr(service)
}

func defaultAddr(service string, ports map[string]int) string {
	port, ok := ports[service]
	if !ok || port <= 0 {
		return ""
	}
	return service + ":" + strconv.Itoa(port)
}
