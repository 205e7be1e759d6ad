package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantarc/halfpipe/internal/options"
	"github.com/quantarc/halfpipe/internal/telemetry"
)

const restTimeout = 10 * time.Second

// numeric decodes the venue's quoted decimal numbers ("0.0012") as well
// as bare JSON numbers.
type numeric float64

func (n *numeric) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = numeric(f)
	return nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// msTime converts a venue millisecond timestamp. Zero means the frame
// carried none; stamp it on arrival instead.
func msTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

// restClient wraps the venue REST API behind a shared rate limiter and
// a circuit breaker. Five consecutive failures open the breaker; it
// half-opens after 30s.
type restClient struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *telemetry.Metrics
}

func newRESTClient(cfg Config, m *telemetry.Metrics) *restClient {
	st := gobreaker.Settings{Name: "ingest-rest"}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	st.Timeout = 30 * time.Second

	return &restClient{
		base:    strings.TrimRight(cfg.RESTURL, "/"),
		http:    &http.Client{Timeout: restTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RESTRateLimit), cfg.RESTBurst),
		breaker: gobreaker.NewCircuitBreaker(st),
		metrics: m,
	}
}

// getJSON performs one rate-limited GET through the breaker and decodes
// the body into out.
func (c *restClient) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (any, error) {
		u := c.base + endpoint
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s: unexpected status %d", endpoint, resp.StatusCode)
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	if err != nil {
		c.metrics.RecordRESTRequest(endpoint, "error")
		return err
	}
	c.metrics.RecordRESTRequest(endpoint, "ok")
	return nil
}

type exchangeInfo struct {
	OptionSymbols []struct {
		Symbol      string  `json:"symbol"`
		Side        string  `json:"side"`
		StrikePrice numeric `json:"strikePrice"`
		Unit        numeric `json:"unit"`
		ExpiryDate  int64   `json:"expiryDate"`
	} `json:"optionSymbols"`
}

type markEntry struct {
	Symbol    string  `json:"symbol"`
	MarkPrice numeric `json:"markPrice"`
	BidIV     numeric `json:"bidIV"`
	AskIV     numeric `json:"askIV"`
	MarkIV    numeric `json:"markIV"`
	Delta     numeric `json:"delta"`
	Theta     numeric `json:"theta"`
	Gamma     numeric `json:"gamma"`
	Vega      numeric `json:"vega"`
}

type openInterestEntry struct {
	Symbol          string  `json:"symbol"`
	SumOpenInterest numeric `json:"sumOpenInterest"`
}

// pollInstruments refreshes the contract universe: registers listed
// contracts for the configured underlying, subscribes ticker streams
// for their expiry dates and drops expired entries from the store.
func (s *Service) pollInstruments(ctx context.Context) error {
	var info exchangeInfo
	if err := s.rest.getJSON(ctx, "/eapi/v1/exchangeInfo", nil, &info); err != nil {
		return err
	}

	prefix := s.cfg.Underlying + "-"
	expiries := make(map[string]struct{})
	listed := 0
	for _, entry := range info.OptionSymbols {
		if !strings.HasPrefix(entry.Symbol, prefix) {
			continue
		}
		meta := options.ContractMeta{
			Symbol:       entry.Symbol,
			Underlying:   s.cfg.Underlying,
			Strike:       float64(entry.StrikePrice),
			ContractSize: float64(entry.Unit),
		}
		if entry.ExpiryDate > 0 {
			meta.Expiry = msTime(entry.ExpiryDate)
		}
		if entry.Side != "" {
			side, err := options.ParseSide(entry.Side)
			if err != nil {
				log.Debug().Err(err).Str("symbol", entry.Symbol).Msg("skipping instrument")
				continue
			}
			meta.Side = side
		}
		if _, err := s.store.UpsertContract(meta); err != nil {
			log.Debug().Err(err).Str("symbol", entry.Symbol).Msg("skipping instrument")
			continue
		}
		listed++
		if parts := strings.Split(entry.Symbol, "-"); len(parts) == 4 {
			expiries[parts[1]] = struct{}{}
		}
	}

	if len(expiries) > 0 {
		dates := make([]string, 0, len(expiries))
		for d := range expiries {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		s.options.SubscribeExpiries(dates)
	}

	pruned := s.store.PruneExpired()
	s.instrumentPolls.Add(1)
	log.Debug().
		Int("contracts", listed).
		Int("expiries", len(expiries)).
		Int("pruned", pruned).
		Msg("instrument list refreshed")
	return nil
}

// pollGreeks refreshes mark prices, IVs and greeks for every listed
// contract in one request.
func (s *Service) pollGreeks(ctx context.Context) error {
	var marks []markEntry
	if err := s.rest.getJSON(ctx, "/eapi/v1/mark", nil, &marks); err != nil {
		return err
	}

	now := time.Now().UTC()
	prefix := s.cfg.Underlying + "-"
	applied := 0
	for _, mk := range marks {
		if !strings.HasPrefix(mk.Symbol, prefix) {
			continue
		}
		if err := s.store.ApplyGreeks(mk.Symbol, options.Greeks{
			Delta: float64(mk.Delta),
			Gamma: float64(mk.Gamma),
			Vega:  float64(mk.Vega),
			Theta: float64(mk.Theta),
		}, now); err != nil {
			continue
		}
		_ = s.store.ApplyMark(mk.Symbol, float64(mk.MarkPrice), float64(mk.MarkIV),
			float64(mk.BidIV), float64(mk.AskIV), now)
		applied++
	}

	s.greeksPolls.Add(1)
	log.Debug().Int("contracts", applied).Msg("greeks refreshed")
	return nil
}

// pollOpenInterest refreshes OI per expiry date. The endpoint is scoped
// to one expiration, so the store's live expiry set drives the fan-out.
func (s *Service) pollOpenInterest(ctx context.Context) error {
	expiries := s.store.Expiries()
	if len(expiries) == 0 {
		return nil
	}

	var firstErr error
	applied := 0
	for _, exp := range expiries {
		q := url.Values{}
		q.Set("underlyingAsset", s.cfg.Underlying)
		q.Set("expiration", exp.UTC().Format("060102"))

		var rows []openInterestEntry
		if err := s.rest.getJSON(ctx, "/eapi/v1/openInterest", q, &rows); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		now := time.Now().UTC()
		for _, row := range rows {
			// Skip rows the instruments poller has not listed yet.
			if _, ok := s.store.Get(row.Symbol); !ok {
				continue
			}
			if err := s.store.ApplyOpenInterest(row.Symbol, float64(row.SumOpenInterest), now); err == nil {
				applied++
			}
		}
	}

	s.oiPolls.Add(1)
	log.Debug().Int("contracts", applied).Int("expiries", len(expiries)).Msg("open interest refreshed")
	return firstErr
}
