package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// State is the health of an endpoint within a session
type State int

const (
	Pending State = iota
	Healthy
	Unhealthy
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	default:
		return "pending"
	}
}

// Endpoint is a collector URL and its health for the session
type Endpoint struct {
	URL   string
	State State
}

// Session tracks endpoint health across the batches of one delivery run.
// It is not safe for concurrent use.
type Session struct {
	client    *Client
	policy    RetryPolicy
	endpoints []*Endpoint
	channel   string
}

// NewSession starts a session with every endpoint pending
func (c *Client) NewSession(policy RetryPolicy) *Session {
	endpoints := make([]*Endpoint, 0, len(c.urls))
	for _, u := range c.urls {
		endpoints = append(endpoints, &Endpoint{URL: u, State: Pending})
	}
	return &Session{
		client:    c,
		policy:    policy,
		endpoints: endpoints,
		channel:   uuid.NewString(),
	}
}

// Endpoints returns a snapshot of endpoint health
func (s *Session) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, *ep)
	}
	return out
}

// Send implements batcher.Sender
func (s *Session) Send(ctx context.Context, body []byte) bool {
	return s.Deliver(ctx, body, nil)
}

// Deliver posts body to the first endpoint that accepts it. Endpoints are
// tried in order; each gets the retry budget of the policy. Connection and
// request errors mark an endpoint unhealthy and it is skipped for the rest
// of the session.
func (s *Session) Deliver(ctx context.Context, body []byte, extra map[string]string) bool {
	c := s.client
	if c.config.MockMode {
		c.mockOutput(body)
		return true
	}

	ctx, span := c.tracer.Start(ctx, "delivery.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.bytes", len(body)),
		attribute.Int("endpoints", len(s.endpoints)),
	)

	headers := c.headers(s.channel)
	for k, v := range extra {
		headers.Set(k, v)
	}

	start := time.Now()
	maxRetries, sleep := s.policy.limits()

	for _, ep := range s.endpoints {
		if ep.State == Unhealthy {
			continue
		}

		retries := -1
		for retries < maxRetries {
			retries++
			if retries != 0 {
				c.log.Info().Str("endpoint", ep.URL).Int("retry", retries).Msgf("Retrying in %s", sleep)
				c.metric.IncDeliveryRetry()
				if err := c.sleep(ctx, sleep); err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, "delivery cancelled")
					c.metric.ObserveDeliveryLatency(time.Since(start), false)
					return false
				}
			}

			derr := c.post(ctx, ep.URL, body, headers)
			if derr == nil {
				ep.State = Healthy
				c.metric.IncDeliveryAttempt("success")
				c.metric.ObserveDeliveryLatency(time.Since(start), true)
				span.SetAttributes(attribute.Int("retries", retries))
				return true
			}

			c.metric.IncDeliveryAttempt(string(derr.Cause))
			span.RecordError(derr)
			if ctx.Err() != nil {
				c.log.Warn().Err(ctx.Err()).Str("endpoint", ep.URL).Msg("Delivery cancelled")
				span.SetStatus(codes.Error, "delivery cancelled")
				c.metric.ObserveDeliveryLatency(time.Since(start), false)
				return false
			}

			switch derr.Cause {
			case CauseTimeout:
				c.log.Info().Err(derr.Err).Str("endpoint", ep.URL).Msg("Request to collector timed out")
			case CauseConnection:
				c.log.Info().Err(derr.Err).Str("endpoint", ep.URL).Msg("Connection error sending to collector")
			case CauseHTTPStatus:
				c.log.Info().Err(derr.Err).Str("endpoint", ep.URL).Int("status", derr.StatusCode).Msg("Collector rejected batch")
			case CauseRequest:
				c.log.Info().Err(derr.Err).Str("endpoint", ep.URL).Msg("Request to collector failed")
			default:
				c.log.Error().Err(derr.Err).Str("endpoint", ep.URL).Msg("Unexpected error sending to collector")
			}

			if derr.Cause.MarksUnhealthy() {
				ep.State = Unhealthy
				c.metric.IncEndpointUnhealthy()
				break
			}
		}
	}

	c.log.Error().Int("bytes", len(body)).Msg("Batch could not be delivered to any endpoint")
	span.SetStatus(codes.Error, "no endpoint accepted batch")
	c.metric.ObserveDeliveryLatency(time.Since(start), false)
	return false
}
