package network

import "time"

// Default values applied when a caller leaves a timeout at its zero value.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultHTTPTimeout = 10 * time.Second
	DNSTimeout         = 5 * time.Second
)
