package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PrometheusSource reads one sample per Collect by evaluating an instant query against the
// Prometheus HTTP API (/api/v1/query). VictoriaMetrics serves the same API.
//
// If the query returns several series their values are SUMMED into a single sample stamped with
// the latest series timestamp.
type PrometheusSource struct {
	// ServerURL is the base URL, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL (or MetricsQL) expression to evaluate.
	Query string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
	// Kind overrides Name(); the factory sets it to "victoriametrics" for that backend.
	Kind string
}

func (p *PrometheusSource) Name() string {
	if p.Kind != "" {
		return p.Kind
	}
	return "prometheus"
}

// Collect implements Source.
func (p *PrometheusSource) Collect(ctx context.Context) ([]Sample, error) {
	if p.ServerURL == "" || p.Query == "" {
		return nil, errors.New("prometheus source: ServerURL and Query are required")
	}

	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query"

	q := u.Query()
	q.Set("query", p.Query)
	u.RawQuery = q.Encode()

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prometheus: status %d", resp.StatusCode)
	}

	var pr PrometheusQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode prometheus response: %w", err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("prometheus status: %s", pr.Status)
	}

	return AggregateQueryResult(pr.Data)
}

// PrometheusQueryResponse is the response of an instant query.
type PrometheusQueryResponse struct {
	Status string              `json:"status"`
	Data   PrometheusQueryData `json:"data"`
}

// PrometheusQueryData holds the result of an instant query. Result is a list of series for
// "vector" results and a single [ <unix_time>, "<value>" ] pair for "scalar" results.
type PrometheusQueryData struct {
	ResultType string          `json:"resultType"`
	Result     json.RawMessage `json:"result"`
}

// PrometheusVectorSerie is one series of a vector result.
type PrometheusVectorSerie struct {
	Metric map[string]string `json:"metric"`
	Value  []any             `json:"value"`
}

// AggregateQueryResult sums every series of an instant query result into one sample.
// An empty vector yields no samples.
func AggregateQueryResult(data PrometheusQueryData) ([]Sample, error) {
	switch data.ResultType {
	case "scalar":
		var pair []any
		if err := json.Unmarshal(data.Result, &pair); err != nil {
			return nil, fmt.Errorf("decode scalar: %w", err)
		}
		s, err := parseValuePair(pair)
		if err != nil {
			return nil, err
		}
		return []Sample{s}, nil

	case "vector":
		var series []PrometheusVectorSerie
		if err := json.Unmarshal(data.Result, &series); err != nil {
			return nil, fmt.Errorf("decode vector: %w", err)
		}
		if len(series) == 0 {
			return nil, nil
		}
		var total Sample
		for _, serie := range series {
			s, err := parseValuePair(serie.Value)
			if err != nil {
				return nil, err
			}
			total.Value += s.Value
			if s.TS.After(total.TS) {
				total.TS = s.TS
			}
		}
		return []Sample{total}, nil

	default:
		return nil, fmt.Errorf("unsupported result type %q", data.ResultType)
	}
}

func parseValuePair(pair []any) (Sample, error) {
	if len(pair) != 2 {
		return Sample{}, fmt.Errorf("invalid value pair length: %d", len(pair))
	}

	var ts time.Time
	switch v := pair[0].(type) {
	case float64:
		ts = time.UnixMilli(int64(v * 1000)).UTC()
	default:
		return Sample{}, fmt.Errorf("unexpected timestamp type %T", v)
	}

	var val float64
	switch vv := pair[1].(type) {
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("parse value: %w", err)
		}
		val = f
	case float64:
		val = vv
	default:
		return Sample{}, fmt.Errorf("unexpected value type %T", vv)
	}

	return Sample{TS: ts, Value: val}, nil
}
