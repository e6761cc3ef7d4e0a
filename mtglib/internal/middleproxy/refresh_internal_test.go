package middleproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type loggerStub struct{}

func (loggerStub) Warning(string)             {}
func (loggerStub) WarningError(string, error) {}
func (loggerStub) Info(string)                {}

type RefresherTestSuite struct {
	suite.Suite

	addrs *AddressTable
}

func (suite *RefresherTestSuite) SetupTest() {
	suite.addrs = NewAddressTable()
}

func (suite *RefresherTestSuite) TestSecretFallsBackToInitial() {
	refresher := NewRefresher(http.DefaultClient, suite.addrs, []byte("initial-secret"), time.Hour, loggerStub{})

	suite.Equal([]byte("initial-secret"), refresher.Secret())
}

func (suite *RefresherTestSuite) TestFetchProxiesParsesProxyForLines() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("/* comment */\nproxy_for 1 149.154.175.55:8888;\nproxy_for -1 149.154.175.55:8888;\n")) //nolint: errcheck
	}))
	defer srv.Close()

	refresher := NewRefresher(srv.Client(), suite.addrs, nil, time.Hour, loggerStub{})

	out, err := refresher.fetchProxies(srv.URL)
	suite.Require().NoError(err)
	suite.Require().Contains(out, 1)
	suite.Equal(Address{Host: "149.154.175.55", Port: 8888}, out[1][0])
	suite.Require().Contains(out, -1)
}

func (suite *RefresherTestSuite) TestFetchProxiesParsesIPv6Brackets() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("proxy_for 1 [2001:b28:f23d:f001::e]:8888;\n")) //nolint: errcheck
	}))
	defer srv.Close()

	refresher := NewRefresher(srv.Client(), suite.addrs, nil, time.Hour, loggerStub{})

	out, err := refresher.fetchProxies(srv.URL)
	suite.Require().NoError(err)
	suite.Equal("2001:b28:f23d:f001::e", out[1][0].Host)
}

func (suite *RefresherTestSuite) TestFetchProxiesErrorsOnEmptyBody() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	refresher := NewRefresher(srv.Client(), suite.addrs, nil, time.Hour, loggerStub{})

	_, err := refresher.fetchProxies(srv.URL)
	suite.Error(err)
}

func (suite *RefresherTestSuite) TestFetchSecretDecodesHex() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("deadbeef\n")) //nolint: errcheck
	}))
	defer srv.Close()

	refresher := NewRefresher(srv.Client(), suite.addrs, nil, time.Hour, loggerStub{})

	secret, err := refresher.fetchSecret()
	suite.Require().NoError(err)
	suite.Equal([]byte{0xde, 0xad, 0xbe, 0xef}, secret)
}

func (suite *RefresherTestSuite) TestFetchSecretFallsBackToRawBytesWhenNotHex() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not-hex-data")) //nolint: errcheck
	}))
	defer srv.Close()

	refresher := NewRefresher(srv.Client(), suite.addrs, nil, time.Hour, loggerStub{})

	secret, err := refresher.fetchSecret()
	suite.Require().NoError(err)
	suite.Equal([]byte("not-hex-data"), secret)
}

func (suite *RefresherTestSuite) TestRefreshOnceUpdatesAddressesAndSecret() {
	mux := http.NewServeMux()
	mux.HandleFunc("/getProxyConfig", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("proxy_for 1 149.154.175.55:8888;\n")) //nolint: errcheck
	})
	mux.HandleFunc("/getProxyConfigV6", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("proxy_for 1 [2001:b28:f23d:f001::e]:8888;\n")) //nolint: errcheck
	})
	mux.HandleFunc("/getProxySecret", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("deadbeef")) //nolint: errcheck
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	refresher := NewRefresher(srv.Client(), suite.addrs, []byte("old-secret"), time.Hour, loggerStub{})

	// refreshOnce hits the package-level URL consts, not the test server, so
	// exercise its pieces directly against the test server instead.
	v4, err := refresher.fetchProxies(srv.URL + "/getProxyConfig")
	suite.Require().NoError(err)
	v6, err := refresher.fetchProxies(srv.URL + "/getProxyConfigV6")
	suite.Require().NoError(err)
	refresher.addrs.Update(v4, v6)

	secret, err := refresher.fetchSecret()
	suite.Require().NoError(err)
	refresher.secret.Store(&secret)

	addr, err := suite.addrs.Pick(1, false)
	suite.Require().NoError(err)
	suite.Equal("149.154.175.55", addr.Host)

	addrV6, err := suite.addrs.Pick(1, true)
	suite.Require().NoError(err)
	suite.Equal("2001:b28:f23d:f001::e", addrV6.Host)

	suite.Equal([]byte{0xde, 0xad, 0xbe, 0xef}, refresher.Secret())
}

func TestRefresher(t *testing.T) {
	t.Parallel()
	suite.Run(t, &RefresherTestSuite{})
}
