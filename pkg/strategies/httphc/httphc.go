package httphc

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/hoststated/pkg/healthcheck"
)

const (
	userAgent     = "hoststated"
	// maxDigestBody bounds how much of a page is read for a digest check.
	maxDigestBody = 1 << 20
)

type HTTPStrategy struct {
	client *http.Client
	req    *http.Request
	code   int
	digest string
}

type HTTPStrategySettings struct {
	Timeout       time.Duration `json:"-"`
	Path          string        `json:"path"`
	Scheme        string        `json:"scheme"`
	Method        string        `json:"method"`
	Host          string        `json:"host"`
	Code          int           `json:"code"`
	// Digest is the hex SHA-1 of the expected response body.
	Digest        string        `json:"digest"`
	Headers       http.Header   `json:"headers"`
	TLSServerName string        `json:"tls_server_name"`
	TLSSkipVerify bool          `json:"tls_skip_verify"`
}

func NewHTTPStrategy(settings *HTTPStrategySettings, target healthcheck.Target) (*HTTPStrategy, error) {
	if !target.Addr.IsValid() {
		return nil, fmt.Errorf("invalid target address %q", target.Addr)
	}
	transport := http.Transport{
		DisableKeepAlives: true,
	}
	if settings.Scheme == "" {
		settings.Scheme = "http"
	}
	if settings.Path == "" {
		settings.Path = "/"
	}
	targetUrl := url.URL{
		Scheme: settings.Scheme,
		Path:   settings.Path,
		Host:   target.Addr.String(),
	}
	if settings.Timeout == 0 {
		settings.Timeout = time.Second
	}
	if targetUrl.Scheme == "https" {
		tlsConfig := new(tls.Config)
		tlsConfig.InsecureSkipVerify = settings.TLSSkipVerify
		tlsConfig.ServerName = settings.TLSServerName

		transport.TLSClientConfig = tlsConfig
		transport.TLSHandshakeTimeout = settings.Timeout
	}
	clnt := http.Client{
		Timeout:   settings.Timeout,
		Transport: &transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	method := http.MethodGet
	if settings.Method != "" {
		method = settings.Method
	}
	req, err := http.NewRequest(
		method,
		targetUrl.String(),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to form http initial request for hc: %w", err)
	}
	if settings.Headers == nil {
		settings.Headers = make(http.Header)
	}
	if settings.Headers.Get("User-Agent") == "" {
		settings.Headers.Add("User-Agent", userAgent)
	}
	req.Header = settings.Headers
	if settings.Host != "" {
		req.Host = settings.Host
	}
	if settings.Digest != "" {
		if _, err := hex.DecodeString(settings.Digest); err != nil || len(settings.Digest) != 2*sha1.Size {
			return nil, fmt.Errorf("invalid sha1 digest %q", settings.Digest)
		}
	}
	return &HTTPStrategy{
		req:    req,
		client: &clnt,
		code:   settings.Code,
		digest: strings.ToLower(settings.Digest),
	}, nil
}

// DoHealthCheck expects the configured status code, any 2xx otherwise. With
// a digest the body has to match as well.
func (tc *HTTPStrategy) DoHealthCheck(ctx context.Context) (bool, error) {
	resp, err := tc.client.Do(tc.req.Clone(ctx))
	if err != nil {
		return false, healthcheck.ClassifyDialError(fmt.Errorf("request do error: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case tc.code != 0 && resp.StatusCode != tc.code,
		tc.code == 0 && resp.StatusCode/100 != 2:
		log.Debug().Msgf("[http-hc]: invalid status code = %d", resp.StatusCode)
		return false, nil
	}
	if tc.digest == "" {
		return true, nil
	}

	h := sha1.New()
	if _, err := io.Copy(h, io.LimitReader(resp.Body, maxDigestBody)); err != nil {
		return false, fmt.Errorf("read body: %w", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != tc.digest {
		log.Debug().Msgf("[http-hc]: digest mismatch, got %s", got)
		return false, nil
	}
	return true, nil
}
