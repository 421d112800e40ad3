package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/kumarabd/gokit/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/kumarabd/hostwatch/internal/metrics"
)

const (
	headerAuthorization = "Authorization"
	headerChannel       = "X-Splunk-Request-Channel"
	maxErrorBody        = 4096
)

// Client posts batch bodies to a set of collector endpoints
type Client struct {
	config *Config
	urls   []string

	http   *http.Client
	log    *logger.Handler
	metric *metrics.Handler
	tracer trace.Tracer

	sleep func(ctx context.Context, d time.Duration) error
	out   io.Writer
}

// NewClient builds a client for the given hosts. The config must already be
// validated.
func NewClient(cfg *Config, hosts []string, m *metrics.Handler, log *logger.Handler) (*Client, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: no indexers", ErrConfigurationMissing)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS()}
	if raw := cfg.ProxyURL(); raw != "" {
		proxy, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	urls := make([]string, 0, len(hosts))
	for _, host := range hosts {
		urls = append(urls, cfg.EndpointURL(host))
	}

	return &Client{
		config: cfg,
		urls:   urls,
		http:   &http.Client{Transport: transport, Timeout: timeout},
		log:    log,
		metric: m,
		tracer: otel.Tracer("hostwatch/delivery"),
		sleep:  sleepContext,
		out:    os.Stdout,
	}, nil
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// headers returns the fixed request headers for a session
func (c *Client) headers(channel string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(headerAuthorization, "Splunk "+c.config.Token)
	h.Set(headerChannel, channel)
	if c.config.Compress {
		h.Set("Content-Encoding", "gzip")
	}
	return h
}

// post makes a single attempt against endpoint
func (c *Client) post(ctx context.Context, endpoint string, body []byte, headers http.Header) *Error {
	payload := body
	if c.config.Compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return &Error{Cause: CauseUnexpected, Endpoint: endpoint, Err: fmt.Errorf("compress body: %w", err)}
		}
		if err := gz.Close(); err != nil {
			return &Error{Cause: CauseUnexpected, Endpoint: endpoint, Err: fmt.Errorf("compress body: %w", err)}
		}
		payload = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return classify(endpoint, err)
	}
	req.Header = headers.Clone()

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{
			Cause:      CauseHTTPStatus,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg))),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// mockOutput prints the batch body instead of sending it
func (c *Client) mockOutput(body []byte) {
	dec := json.NewDecoder(bytes.NewReader(body))
	var pretty bytes.Buffer
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			c.log.Error().Err(err).Msg("Failed to decode batch body in mock mode")
			return
		}
		if err := json.Indent(&pretty, raw, "", "  "); err != nil {
			c.log.Error().Err(err).Msg("Failed to indent event in mock mode")
			return
		}
		pretty.WriteByte('\n')
	}

	fmt.Fprintln(c.out, strings.Repeat("=", 81))
	fmt.Fprintln(c.out, "COLLECTOR MOCK OUTPUT - Events would be sent to", strings.Join(c.urls, ", "))
	fmt.Fprintln(c.out, strings.Repeat("=", 81))
	fmt.Fprint(c.out, pretty.String())
	fmt.Fprintln(c.out, strings.Repeat("=", 81))
	fmt.Fprintln(c.out)
}
