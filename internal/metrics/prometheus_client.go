package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"
)

// TrafficRateQuery is the per-second packet rate over the exported counter.
const TrafficRateQuery = `sum(rate(ddos_guard_packets_total[1m]))`

// PrometheusClient wraps Prometheus API client
type PrometheusClient struct {
	client v1.API
	url    string
}

// NewPrometheusClient creates a new Prometheus client
func NewPrometheusClient(url string) (*PrometheusClient, error) {
	promClient, err := api.NewClient(api.Config{
		Address: url,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %v", err)
	}

	return NewPrometheusClientWithAPI(v1.NewAPI(promClient), url), nil
}

func NewPrometheusClientWithAPI(client v1.API, url string) *PrometheusClient {
	return &PrometheusClient{
		client: client,
		url:    url,
	}
}

// Query executes a Prometheus query
func (p *PrometheusClient) Query(ctx context.Context, query string, timeout time.Duration) (prommodel.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, _, err := p.client.Query(ctx, query, time.Now())
	return result, err
}

// QueryRange executes a Prometheus range query
func (p *PrometheusClient) QueryRange(ctx context.Context, query string, r v1.Range, timeout time.Duration) (prommodel.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, _, err := p.client.QueryRange(ctx, query, r)
	return result, err
}

// TrafficPoint is one sample of the packet rate history.
type TrafficPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Rate      float64   `json:"rate"`
}

// TrafficHistory returns the packet rate over the last minutes, one point per step.
func (p *PrometheusClient) TrafficHistory(ctx context.Context, minutes int, step, timeout time.Duration) ([]TrafficPoint, error) {
	if minutes <= 0 {
		minutes = 15
	}
	if step <= 0 {
		step = 15 * time.Second
	}
	end := time.Now()
	r := v1.Range{
		Start: end.Add(-time.Duration(minutes) * time.Minute),
		End:   end,
		Step:  step,
	}

	value, err := p.QueryRange(ctx, TrafficRateQuery, r, timeout)
	if err != nil {
		return nil, fmt.Errorf("traffic history query failed: %w", err)
	}
	return matrixToPoints(value), nil
}

func matrixToPoints(value prommodel.Value) []TrafficPoint {
	points := []TrafficPoint{}
	matrix, ok := value.(prommodel.Matrix)
	if !ok {
		return points
	}
	for _, stream := range matrix {
		for _, sample := range stream.Values {
			points = append(points, TrafficPoint{
				Timestamp: sample.Timestamp.Time(),
				Rate:      float64(sample.Value),
			})
		}
	}
	return points
}

func (p *PrometheusClient) URL() string {
	return p.url
}
