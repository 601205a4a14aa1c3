package sources

import (
	"context"
	"fmt"
	"sort"

	drepo "MacroPulse/internal/domain/repository"
	"MacroPulse/internal/service/cache"
	"MacroPulse/pkg/config"
	xhttp "MacroPulse/pkg/http"
	"MacroPulse/pkg/logger"
)

// Registry holds the configured sources by name.
type Registry struct {
	sources map[string]drepo.Source
	guards  map[string]*Guard
	streams []*Stream
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]drepo.Source), guards: make(map[string]*Guard)}
}

// Register adds or replaces a source under its name.
func (r *Registry) Register(s drepo.Source) {
	r.sources[s.Name()] = s
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (drepo.Source, bool) {
	s, ok := r.sources[name]
	return s, ok
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.sources))
	for n := range r.sources {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// BreakerStates returns the circuit breaker state of each guarded source.
func (r *Registry) BreakerStates() map[string]string {
	out := make(map[string]string, len(r.guards))
	for n, g := range r.guards {
		out[n] = g.State()
	}
	return out
}

// RunStreams starts every streaming source; it returns immediately.
func (r *Registry) RunStreams(ctx context.Context) {
	for _, s := range r.streams {
		go s.Run(ctx)
	}
}

// Build creates one adapter per source config, wrapped in the optional response
// cache and guard. respCache may be nil when no source sets cache_ttl.
func Build(cfgs []config.SourceConfig, respCache cache.BytesCache, log *logger.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, sc := range cfgs {
		var (
			src drepo.Source
			err error
		)
		client := xhttp.NewClient(xhttp.WithTimeout(sc.Timeout))
		switch sc.Type {
		case "fred":
			src, err = NewFRED(sc.Name, sc.APIKey, WithFREDBaseURL(sc.BaseURL), WithFREDClient(client))
		case "httpjson":
			src, err = NewHTTPJSON(sc.Name, HTTPJSONConfig{
				URL:          sc.URL,
				Headers:      sc.Headers,
				ValuePath:    sc.ValuePath,
				PreviousPath: sc.PreviousPath,
			}, client)
		case "stream":
			st := NewStream(sc.Name, StreamConfig{
				URL:            sc.URL,
				APIKey:         sc.APIKey,
				Symbols:        sc.Symbols,
				ReconnectDelay: sc.ReconnectDelay,
				PingInterval:   sc.PingInterval,
				MaxAge:         sc.MaxAge,
			}, log)
			r.streams = append(r.streams, st)
			src = st
		case "static":
			src = NewStatic(sc.Name, sc.Values)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownSourceType, sc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}

		if sc.CacheTTL > 0 && respCache != nil {
			src = NewCached(src, respCache, sc.CacheTTL)
		}
		if sc.RatePerSecond > 0 || sc.FailureThreshold > 0 {
			g := NewGuard(src, GuardConfig{
				RatePerSecond:    sc.RatePerSecond,
				Burst:            sc.Burst,
				FailureThreshold: sc.FailureThreshold,
				OpenTimeout:      sc.OpenTimeout,
			}, log)
			r.guards[sc.Name] = g
			src = g
		}
		r.Register(src)
	}
	return r, nil
}
