package utils

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"

	"github.com/clusterlabs/striker-console/pkg/config"
	"github.com/clusterlabs/striker-console/pkg/version"
	"github.com/rs/zerolog/log"
)

// maxResponseSize bounds how much of a control-plane response is read.
const maxResponseSize = 1 << 20

// NewHTTPClient creates an HTTP client with TLS configuration from global settings
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: NewTLSConfig()},
	}
}

// NewTLSConfig builds the TLS configuration shared by HTTP and websocket clients.
func NewTLSConfig() *tls.Config {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: !config.GlobalSettings.SSLVerify,
	}

	if config.GlobalSettings.CaCert != "" {
		caCertPool := x509.NewCertPool()
		if caCert, err := os.ReadFile(config.GlobalSettings.CaCert); err == nil {
			caCertPool.AppendCertsFromPEM(caCert)
			tlsConfig.RootCAs = caCertPool
		} else {
			log.Error().Err(err).Msg("Failed to read CA certificate.")
		}
	}

	return tlsConfig
}

// GetUserAgent returns the User-Agent header value for the named program.
func GetUserAgent(name string) string {
	return fmt.Sprintf("%s/%s (%s; %s)", name, version.Version, runtime.GOOS, runtime.GOARCH)
}

// Put sends a JSON body with PUT and returns the response body and status.
// The request is bound to ctx; callers put their deadline there.
func Put(ctx context.Context, client *http.Client, url string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", GetUserAgent("striker-console"))

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return respBody, resp.StatusCode, nil
}
