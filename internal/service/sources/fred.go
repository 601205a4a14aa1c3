package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"MacroPulse/internal/domain/models"
	xhttp "MacroPulse/pkg/http"
)

const defaultFREDBaseURL = "https://api.stlouisfed.org"

// fredRowLimit covers a run of holiday rows ahead of two readable ones.
const fredRowLimit = 10

// FRED reads economic series from the FRED observations API. The two most
// recent readable observations give the current value and the
// source-provided previous.
type FRED struct {
	name    string
	baseURL string
	apiKey  string
	client  *xhttp.Client
	now     func() time.Time
}

// FREDOption configures the FRED adapter.
type FREDOption func(*FRED)

// WithFREDBaseURL overrides the API host.
func WithFREDBaseURL(u string) FREDOption {
	return func(f *FRED) {
		if u != "" {
			f.baseURL = u
		}
	}
}

// WithFREDClient sets the HTTP client.
func WithFREDClient(c *xhttp.Client) FREDOption {
	return func(f *FRED) { f.client = c }
}

// NewFRED creates a FRED adapter.
func NewFRED(name, apiKey string, opts ...FREDOption) (*FRED, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	f := &FRED{
		name:    name,
		baseURL: defaultFREDBaseURL,
		apiKey:  apiKey,
		client:  xhttp.NewClient(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

func (f *FRED) Name() string { return f.name }

func (f *FRED) Fetch(ctx context.Context, symbol string) (models.RawObservation, error) {
	var body []byte
	err := f.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    f.baseURL + "/fred/series/observations",
		QueryParams: url.Values{
			"series_id":  {symbol},
			"api_key":    {f.apiKey},
			"file_type":  {"json"},
			"sort_order": {"desc"},
			"limit":      {strconv.Itoa(fredRowLimit)},
		},
	}, &body)
	if err != nil {
		return models.RawObservation{}, tag(f.name, symbol, err)
	}

	if !gjson.ValidBytes(body) {
		return models.RawObservation{}, NewPermanent(f.name, symbol, ErrInvalidResponse)
	}
	obs := gjson.GetBytes(body, "observations")
	if !obs.IsArray() || len(obs.Array()) == 0 {
		return models.RawObservation{}, NewPermanent(f.name, symbol, fmt.Errorf("%w: no observations", ErrInvalidResponse))
	}
	rows := obs.Array()

	// daily series report "." on holidays; skip to the newest readable rows
	var (
		out      models.RawObservation
		found    bool
		firstErr error
	)
	for _, row := range rows {
		v, err := ParseValue(row.Get("value").String())
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !found {
			out = models.RawObservation{IndicatorID: symbol, Value: v, FetchedAt: f.now().UTC()}
			found = true
			continue
		}
		out.Previous = models.Float(v)
		break
	}
	if !found {
		return models.RawObservation{}, NewPermanent(f.name, symbol, firstErr)
	}
	return out, nil
}

// tag wraps err with its classified kind.
func tag(source, symbol string, err error) error {
	if Classify(err) == Permanent {
		return NewPermanent(source, symbol, err)
	}
	return NewTransient(source, symbol, err)
}
