package middleproxy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ApplyPublicIPTestSuite struct {
	suite.Suite
}

func (suite *ApplyPublicIPTestSuite) TestNilPublicIPKeepsLocal() {
	local := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 4000}
	remote := &net.TCPAddr{IP: net.ParseIP("149.154.175.50"), Port: 8888}

	got := applyPublicIP(local, remote, nil)

	suite.Same(net.Addr(local), got)
}

func (suite *ApplyPublicIPTestSuite) TestMatchingFamilySwapsIPKeepsPort() {
	local := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 4000}
	remote := &net.TCPAddr{IP: net.ParseIP("149.154.175.50"), Port: 8888}
	public := net.ParseIP("203.0.113.7")

	got := applyPublicIP(local, remote, public)

	tcpGot, ok := got.(*net.TCPAddr)
	suite.Require().True(ok)
	suite.Equal(public, tcpGot.IP)
	suite.Equal(4000, tcpGot.Port)
}

func (suite *ApplyPublicIPTestSuite) TestMismatchedFamilyKeepsLocal() {
	local := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 4000}
	remote := &net.TCPAddr{IP: net.ParseIP("149.154.175.50"), Port: 8888}
	publicV6 := net.ParseIP("2001:b28:f23d:f001::d")

	got := applyPublicIP(local, remote, publicV6)

	suite.Same(net.Addr(local), got)
}

func (suite *ApplyPublicIPTestSuite) TestNonTCPAddrKeptAsIs() {
	local := &net.UnixAddr{Name: "/tmp/sock"}
	remote := &net.TCPAddr{IP: net.ParseIP("149.154.175.50"), Port: 8888}

	got := applyPublicIP(local, remote, net.ParseIP("203.0.113.7"))

	suite.Same(net.Addr(local), got)
}

func TestApplyPublicIP(t *testing.T) {
	t.Parallel()
	suite.Run(t, &ApplyPublicIPTestSuite{})
}
