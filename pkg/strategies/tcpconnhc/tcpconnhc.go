package tcpconnhc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/Sh00ty/hoststated/pkg/healthcheck"
)

const tcpNetwork = "tcp"

type TcpHealthCheckSettings struct {
	Timeout       time.Duration `json:"-"`
	TLS           bool          `json:"tls"`
	TLSServerName string        `json:"tls_server_name"`
	TLSSkipVerify bool          `json:"tls_skip_verify"`
}

// TcpConnStrategy checks that a connection (optionally with a TLS
// handshake) can be established.
type TcpConnStrategy struct {
	targetAddr string
	tlsConfig  *tls.Config
	dialer     net.Dialer
}

func NewTcpConnStrategy(settings *TcpHealthCheckSettings, target healthcheck.Target) (*TcpConnStrategy, error) {
	if !target.Addr.IsValid() {
		return nil, fmt.Errorf("invalid target address %q", target.Addr)
	}
	var tlsConfig *tls.Config
	if settings.TLS {
		tlsConfig = new(tls.Config)
		tlsConfig.InsecureSkipVerify = settings.TLSSkipVerify
		tlsConfig.ServerName = settings.TLSServerName
	}
	return &TcpConnStrategy{
		targetAddr: target.Addr.String(),
		tlsConfig:  tlsConfig,
		dialer: net.Dialer{
			Timeout:   settings.Timeout,
			KeepAlive: -1,
		},
	}, nil
}

func (tc *TcpConnStrategy) DoHealthCheck(ctx context.Context) (bool, error) {
	var (
		conn net.Conn
		err  error
	)
	if tc.tlsConfig == nil {
		conn, err = tc.dialer.DialContext(ctx, tcpNetwork, tc.targetAddr)
	} else {
		tlsDialer := tls.Dialer{NetDialer: &tc.dialer, Config: tc.tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, tcpNetwork, tc.targetAddr)
	}
	if err != nil {
		return false, healthcheck.ClassifyDialError(err)
	}
	_ = conn.Close()
	return true, nil
}
