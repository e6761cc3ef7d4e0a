// Package maintenance runs the proxy's background upkeep tasks: detecting
// host clock skew against Telegram's own clock, probing the cover site's
// real TLS certificate size so the FakeTLS cover traffic matches it, and
// discovering the proxy's own public address. original_source runs these
// as independent asyncio loops (get_srv_time, get_mask_host_cert_len,
// init_ip_info); here each is its own task type with its own ticker
// goroutine, bundled by Runner for a single Start/Stop from bootstrap.
//
// original_source's fourth loop, update_middle_proxy_info, refreshes the
// middle-proxy address table and RPC secret this package's sibling
// mtglib/internal/middleproxy owns. That refresher has to live inside the
// mtglib tree instead (Go's internal-package visibility rules keep
// mtglib/internal/middleproxy out of reach from here), alongside the
// middle-proxy dial path itself - see DESIGN.md.
package maintenance

// Runner starts and stops whichever maintenance tasks bootstrap configured.
// Every field is optional; a nil field is simply skipped.
type Runner struct {
	TimeSync  *TimeSync
	CertProbe *CertLengthProbe
	PublicIP  *PublicIPInfo
}

// Start runs public IP discovery synchronously once, then starts every
// configured periodic task in the background.
func (r *Runner) Start() {
	if r.PublicIP != nil {
		r.PublicIP.Discover()
	}

	if r.TimeSync != nil {
		r.TimeSync.Start()
	}

	if r.CertProbe != nil {
		r.CertProbe.Start()
	}
}

// Stop signals every running task to exit. It does not wait for their
// goroutines to return; they're ticker loops with no in-flight state worth
// draining.
func (r *Runner) Stop() {
	if r.TimeSync != nil {
		r.TimeSync.Stop()
	}

	if r.CertProbe != nil {
		r.CertProbe.Stop()
	}
}
