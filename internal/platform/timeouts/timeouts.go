// Package timeouts defines shared timeout constants used across revents processes.
package timeouts

import "time"

// HandlerBudget caps one trigger handler invocation. Handlers exceeding it
// are cancelled mid-flight.
const HandlerBudget = 60 * time.Second

// StoreOpen limits how long a process waits for a backing store to answer
// its first ping.
const StoreOpen = 5 * time.Second

// Shutdown limits how long a server waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
