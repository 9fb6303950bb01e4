package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPSource calls a REST endpoint and extracts readings from its JSON response using gjson
// path expressions.
//
// It supports:
//   - Configurable HTTP method (GET, POST, etc.)
//   - Template-based body and headers with variables: {{.Now}}, {{.NowRFC3339}} and TemplateVars
//   - A ValuePath that selects either one number or an array of numbers
//   - An optional TimestampPath; without it every reading is stamped with the collection time
//
// Example configuration for a device gateway:
//
//	src := &HTTPSource{
//	    URL:           "http://gateway.local/api/sensors/boiler",
//	    ValuePath:     "readings.#.celsius",
//	    TimestampPath: "readings.#.at",
//	}
type HTTPSource struct {
	// URL is the endpoint to call (required)
	URL string

	// Method is the HTTP method. Defaults to GET if empty.
	Method string

	// Headers are custom HTTP headers; values may use template variables.
	Headers map[string]string

	// Body is the request body template.
	Body string

	// ValuePath is the gjson path to the reading(s), e.g. "temperature" or "data.#.value".
	ValuePath string

	// TimestampPath is the optional gjson path to the timestamps. When set it must yield as many
	// elements as ValuePath.
	TimestampPath string

	// TimestampFormat is one of "rfc3339" (default), "unix" or "unix_milli".
	TimestampFormat string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in Body and Headers templates.
	TemplateVars map[string]string

	now func() time.Time
}

func (h *HTTPSource) Name() string { return "http" }

// Collect implements Source.
func (h *HTTPSource) Collect(ctx context.Context) ([]Sample, error) {
	if err := h.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}

	nowFn := h.now
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn().UTC()

	templateData := map[string]any{
		"Now":        now.Unix(),
		"NowRFC3339": now.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		renderedBody, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(renderedBody)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return h.parse(respBody, now)
}

func (h *HTTPSource) parse(body []byte, now time.Time) ([]Sample, error) {
	values := gjson.GetBytes(body, h.ValuePath)
	if !values.Exists() {
		return nil, fmt.Errorf("value path %q not found in response", h.ValuePath)
	}
	valArray := resultArray(values)

	var tsArray []gjson.Result
	if h.TimestampPath != "" {
		timestamps := gjson.GetBytes(body, h.TimestampPath)
		if !timestamps.Exists() {
			return nil, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
		}
		tsArray = resultArray(timestamps)
		if len(valArray) != len(tsArray) {
			return nil, fmt.Errorf("value count (%d) != timestamp count (%d)", len(valArray), len(tsArray))
		}
	}

	samples := make([]Sample, 0, len(valArray))
	for i, v := range valArray {
		val, err := numericValue(v)
		if err != nil {
			return nil, fmt.Errorf("value[%d]: %w", i, err)
		}

		ts := now
		if tsArray != nil {
			ts, err = parseTimestamp(tsArray[i], h.TimestampFormat)
			if err != nil {
				return nil, fmt.Errorf("parse timestamp[%d]: %w", i, err)
			}
		}

		samples = append(samples, Sample{TS: ts, Value: val})
	}

	sortSamples(samples)
	return samples, nil
}

// ValidateConfig checks if the source configuration is valid.
func (h *HTTPSource) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.ValuePath == "" {
		return errors.New("valuePath is required")
	}

	switch h.TimestampFormat {
	case "", "rfc3339", "unix", "unix_milli":
		return nil
	default:
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}
}

func resultArray(r gjson.Result) []gjson.Result {
	if r.IsArray() {
		return r.Array()
	}
	return []gjson.Result{r}
}

// numericValue accepts JSON numbers and numeric strings.
func numericValue(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), nil
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", r.Str)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %s", r.Raw)
	}
}

func parseTimestamp(value gjson.Result, format string) (time.Time, error) {
	switch format {
	case "", "rfc3339":
		return time.Parse(time.RFC3339, value.String())
	case "unix":
		return time.Unix(int64(value.Float()), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(value.Float())).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", format)
	}
}

// renderTemplate renders a text template with the given data
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
