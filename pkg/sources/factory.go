package sources

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// New creates a source from its kind and a generic configuration map.
//
// Supported kinds and their keys:
//   - "prometheus":      query (required), url (default http://localhost:9090)
//   - "victoriametrics": query (required), url (default http://localhost:8428)
//   - "http":            url, valuePath (required), method, headers (JSON), body, timestampPath,
//     timestampFormat, templateVars (JSON)
//   - "kafka":           brokers (comma separated), topic (required), groupId, valuePath, maxBatch, maxWait
func New(kind string, config map[string]string, logger *slog.Logger) (Source, error) {
	switch kind {
	case "prometheus":
		return newPrometheus(config, "prometheus", "http://localhost:9090")
	case "victoriametrics":
		return newPrometheus(config, "victoriametrics", "http://localhost:8428")
	case "http":
		return newHTTP(config)
	case "kafka":
		return newKafka(config, logger)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be prometheus, victoriametrics, http, or kafka)", kind)
	}
}

func newPrometheus(config map[string]string, kind, defaultURL string) (Source, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("%s source requires 'query' config", kind)
	}

	url := config["url"]
	if url == "" {
		url = defaultURL
	}

	return &PrometheusSource{
		ServerURL: url,
		Query:     query,
		Kind:      kind,
	}, nil
}

func newHTTP(config map[string]string) (Source, error) {
	src := &HTTPSource{
		URL:             config["url"],
		Method:          config["method"],
		Body:            config["body"],
		ValuePath:       config["valuePath"],
		TimestampPath:   config["timestampPath"],
		TimestampFormat: config["timestampFormat"],
	}

	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &src.Headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}

	if varsJSON := config["templateVars"]; varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &src.TemplateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}

	if err := src.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}

	return src, nil
}

func newKafka(config map[string]string, logger *slog.Logger) (Source, error) {
	cfg := KafkaConfig{
		Topic:     config["topic"],
		GroupID:   config["groupId"],
		ValuePath: config["valuePath"],
	}

	for _, b := range strings.Split(config["brokers"], ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Brokers = append(cfg.Brokers, b)
		}
	}

	if v := config["maxBatch"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid maxBatch: %w", err)
		}
		cfg.MaxBatch = n
	}

	if v := config["maxWait"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid maxWait: %w", err)
		}
		cfg.MaxWait = d
	}

	return NewKafkaSource(cfg, logger)
}

// SetHTTPClient installs client on sources that talk HTTP. It reports whether src is one of them.
func SetHTTPClient(src Source, client *http.Client) bool {
	switch s := src.(type) {
	case *PrometheusSource:
		s.HTTPClient = client
		return true
	case *HTTPSource:
		s.HTTPClient = client
		return true
	default:
		return false
	}
}
