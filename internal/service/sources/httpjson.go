package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"MacroPulse/internal/domain/models"
	xhttp "MacroPulse/pkg/http"
)

// symbolPlaceholder is replaced by the indicator symbol in URLs and paths.
const symbolPlaceholder = "{symbol}"

// HTTPJSONConfig describes a generic JSON endpoint.
type HTTPJSONConfig struct {
	URL          string            // may contain {symbol}
	Headers      map[string]string // sent with every request
	ValuePath    string            // gjson path, may contain {symbol}
	PreviousPath string            // optional gjson path for the prior reading
}

// HTTPJSON extracts indicator values from arbitrary JSON APIs with gjson paths.
type HTTPJSON struct {
	name   string
	cfg    HTTPJSONConfig
	client *xhttp.Client
	now    func() time.Time
}

// NewHTTPJSON creates a generic JSON adapter.
func NewHTTPJSON(name string, cfg HTTPJSONConfig, client *xhttp.Client) (*HTTPJSON, error) {
	if cfg.URL == "" || cfg.ValuePath == "" {
		return nil, fmt.Errorf("httpjson source %s: url and value_path are required", name)
	}
	if client == nil {
		client = xhttp.NewClient()
	}
	return &HTTPJSON{name: name, cfg: cfg, client: client, now: time.Now}, nil
}

func (h *HTTPJSON) Name() string { return h.name }

func (h *HTTPJSON) Fetch(ctx context.Context, symbol string) (models.RawObservation, error) {
	var body []byte
	err := h.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     strings.ReplaceAll(h.cfg.URL, symbolPlaceholder, symbol),
		Headers: h.cfg.Headers,
	}, &body)
	if err != nil {
		return models.RawObservation{}, tag(h.name, symbol, err)
	}
	if !gjson.ValidBytes(body) {
		return models.RawObservation{}, NewPermanent(h.name, symbol, ErrInvalidResponse)
	}

	cur, err := extract(body, strings.ReplaceAll(h.cfg.ValuePath, symbolPlaceholder, symbol))
	if err != nil {
		return models.RawObservation{}, NewPermanent(h.name, symbol, err)
	}
	out := models.RawObservation{IndicatorID: symbol, Value: cur, FetchedAt: h.now().UTC()}
	if h.cfg.PreviousPath != "" {
		if prev, err := extract(body, strings.ReplaceAll(h.cfg.PreviousPath, symbolPlaceholder, symbol)); err == nil {
			out.Previous = models.Float(prev)
		}
	}
	return out, nil
}

func extract(body []byte, path string) (float64, error) {
	r := gjson.GetBytes(body, path)
	switch r.Type {
	case gjson.Number:
		return r.Float(), CheckFinite(r.Float())
	case gjson.String:
		return ParseValue(r.Str)
	default:
		return 0, fmt.Errorf("%w: path %q not numeric", ErrInvalidValue, path)
	}
}
