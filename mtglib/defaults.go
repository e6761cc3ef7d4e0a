package mtglib

import "time"

// Default values applied by ProxyOpts accessor methods when the caller
// leaves a field at its zero value.
const (
	DefaultConcurrency         = 8192
	DefaultDomainFrontingPort  = 443
	DefaultPreferIP            = "prefer-ipv4"
	DefaultTolerateTimeSkewness = 10 * time.Second
)
