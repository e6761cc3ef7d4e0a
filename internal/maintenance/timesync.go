package maintenance

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mtgrelay/mtgproxy/mtglib"
)

// DefaultTimeSyncURL is the endpoint get_srv_time polls in original_source:
// any HTTPS response from it carries a Date header we can compare against
// our own clock. It has nothing to do with the secret the name suggests -
// it's just a stable, always-up Telegram endpoint.
const DefaultTimeSyncURL = "https://core.telegram.org/getProxySecret"

// MaxTimeSkew is how far the host clock may drift from the Date header
// before TimeSync reports skew, matching original_source's MAX_TIME_SKEW.
const MaxTimeSkew = 30 * time.Second

// TimeSync periodically compares the host clock against the Date header of
// an HTTPS response and reports sustained skew through onSkew, which the
// caller wires to mtglib.Proxy.SetTimeSkewed so the FakeTLS handshake
// window check is bypassed instead of rejecting every legitimate client
// while the clock is wrong.
type TimeSync struct {
	client *http.Client
	url    string
	period time.Duration
	onSkew func(bool)
	logger mtglib.Logger

	stopCh chan struct{}
}

// NewTimeSync builds a TimeSync task. client should come from
// mtglib.Network.MakeHTTPClient so the probe goes through the same dialer
// (and DNS/SOCKS5 path) as everything else the proxy does.
func NewTimeSync(client *http.Client, url string, period time.Duration, onSkew func(bool), logger mtglib.Logger) *TimeSync {
	if url == "" {
		url = DefaultTimeSyncURL
	}

	if period <= 0 {
		period = 4 * time.Hour
	}

	return &TimeSync{
		client: client,
		url:    url,
		period: period,
		onSkew: onSkew,
		logger: logger.Named("time-sync"),
		stopCh: make(chan struct{}),
	}
}

func (s *TimeSync) Start() {
	s.checkOnce()

	go func() {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.checkOnce()
			}
		}
	}()
}

func (s *TimeSync) Stop() {
	close(s.stopCh)
}

func (s *TimeSync) checkOnce() {
	srvTime, err := s.fetchServerTime()
	if err != nil {
		s.logger.WarningError("cannot fetch server time", err)

		return
	}

	skew := time.Since(srvTime)
	if skew < 0 {
		skew = -skew
	}

	skewed := skew > MaxTimeSkew
	if skewed {
		s.logger.Warning(fmt.Sprintf(
			"time skew detected: server time %s, local time %s - disabling the faketls time window check",
			srvTime.Format(time.RFC1123), time.Now().UTC().Format(time.RFC1123)))
	}

	s.onSkew(skewed)
}

func (s *TimeSync) fetchServerTime() (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint: gomnd
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot perform request: %w", err)
	}
	defer resp.Body.Close()

	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return time.Time{}, fmt.Errorf("response carried no Date header")
	}

	srvTime, err := http.ParseTime(dateHeader)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse Date header %q: %w", dateHeader, err)
	}

	return srvTime, nil
}
