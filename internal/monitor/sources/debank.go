package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/web3-frozen/portfolio-reporter/internal/metrics"
	"github.com/web3-frozen/portfolio-reporter/internal/monitor"
	"github.com/web3-frozen/portfolio-reporter/internal/portfolio"
)

const (
	debankProTotalAPI = "https://pro-openapi.debank.com/v1/user/total_balance"
	debankAllTokenAPI = "https://api.debank.com/user/all_token_list"
	debankTokenAPI    = "https://api.debank.com/user/token_list"
	debankProfileURL  = "https://debank.com/profile/"

	chainThrottle   = 200 * time.Millisecond
	retryPause      = time.Second
	defaultRetries  = 2
	debankUserAgent = "Mozilla/5.0"
)

// Where the reported total came from.
const (
	TotalFromPro     = "pro"
	TotalFromBrowser = "browser"
	TotalFromPublic  = "public"
)

// DefaultChains are queried one by one when the all-chain token list is empty.
var DefaultChains = []string{
	"eth", "arbitrum", "base", "optimism", "polygon",
	"bsc", "avalanche", "fantom", "linea", "zksync", "zkevm", "scroll", "sol",
}

// DeBankConfig selects the wallet and the optional upgrades to the public API.
type DeBankConfig struct {
	Address   string
	Chains    []string
	AccessKey string // enables the pro total_balance endpoint
	Retries   int    // attempts per public request
	Browser   bool   // render the profile page when no AccessKey is set
}

// DeBank reports a wallet's USD total and its stablecoin share.
//
// The pro API total includes protocol positions (lending, LP, vaults). The
// public token lists only cover wallet tokens, so without an access key the
// total may understate the portfolio. The stable figures always come from
// the public token lists.
type DeBank struct {
	cfg    DeBankConfig
	client *http.Client
	logger *slog.Logger

	proURL      string
	allTokenURL string
	tokenURL    string
	throttle    time.Duration
	retryPause  time.Duration

	browserTotal func(ctx context.Context, address string) (decimal.Decimal, error)
}

func NewDeBank(cfg DeBankConfig, logger *slog.Logger) *DeBank {
	if len(cfg.Chains) == 0 {
		cfg.Chains = DefaultChains
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	return &DeBank{
		cfg:          cfg,
		client:       &http.Client{Timeout: 20 * time.Second},
		logger:       logger,
		proURL:       debankProTotalAPI,
		allTokenURL:  debankAllTokenAPI,
		tokenURL:     debankTokenAPI,
		throttle:     chainThrottle,
		retryPause:   retryPause,
		browserTotal: profileTotal,
	}
}

func (d *DeBank) Name() string { return "portfolio" }
func (d *DeBank) URL() string  { return debankProfileURL + d.cfg.Address }

// ProTotal returns the pro API total_usd_value. ok is false when no access
// key is configured or the call failed.
func (d *DeBank) ProTotal(ctx context.Context) (total decimal.Decimal, ok bool) {
	if d.cfg.AccessKey == "" {
		return decimal.Zero, false
	}

	q := url.Values{"id": {d.cfg.Address}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.proURL+"?"+q.Encode(), nil)
	if err != nil {
		d.logger.Warn("debank pro request", "error", err)
		return decimal.Zero, false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("AccessKey", d.cfg.AccessKey)

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("debank_pro_total", "error").Inc()
		d.logger.Warn("debank pro total_balance failed", "error", err)
		return decimal.Zero, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamRequestsTotal.WithLabelValues("debank_pro_total", "error").Inc()
		d.logger.Warn("debank pro total_balance failed", "status", resp.StatusCode)
		return decimal.Zero, false
	}

	var body struct {
		TotalUSDValue decimal.NullDecimal `json:"total_usd_value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("debank_pro_total", "error").Inc()
		d.logger.Warn("decode debank pro total_balance", "error", err)
		return decimal.Zero, false
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("debank_pro_total", "ok").Inc()
	if !body.TotalUSDValue.Valid {
		return decimal.Zero, true
	}
	if !portfolio.InRange(body.TotalUSDValue.Decimal) {
		d.logger.Warn("debank pro total_balance out of range")
		return decimal.Zero, false
	}
	return body.TotalUSDValue.Decimal, true
}

// FallbackTotals accumulates the public token lists. The all-chain list is
// tried first; when it yields nothing every configured chain is queried in
// turn. Failed requests contribute nothing.
func (d *DeBank) FallbackTotals(ctx context.Context) (totals portfolio.Totals, skipped int) {
	raw, err := d.getTokens(ctx, "debank_all_token_list", d.allTokenURL, url.Values{
		"id":     {d.cfg.Address},
		"is_all": {"true"},
	})
	if err != nil {
		d.logger.Warn("debank all_token_list failed", "error", err)
	}
	if len(raw) > 0 {
		return d.accumulate(raw)
	}

	var all []json.RawMessage
	for i, chain := range d.cfg.Chains {
		if i > 0 && !sleepCtx(ctx, d.throttle) {
			break
		}
		raw, err := d.getTokens(ctx, "debank_token_list", d.tokenURL, url.Values{
			"id":     {d.cfg.Address},
			"is_all": {"true"},
			"chain":  {chain},
		})
		if err != nil {
			d.logger.Warn("debank token_list failed", "chain", chain, "error", err)
			continue
		}
		all = append(all, raw...)
	}
	return d.accumulate(all)
}

func (d *DeBank) accumulate(raw []json.RawMessage) (portfolio.Totals, int) {
	tokens, skipped := portfolio.ParseTokens(raw)
	if skipped > 0 {
		metrics.SkippedTokensTotal.Add(float64(skipped))
		d.logger.Warn("skipped malformed token records", "count", skipped)
	}
	return portfolio.Accumulate(tokens), skipped
}

type debankListResponse struct {
	ErrorCode int               `json:"error_code"`
	ErrorMsg  string            `json:"error_msg"`
	Data      []json.RawMessage `json:"data"`
}

// getTokens calls a public token-list endpoint, retrying up to cfg.Retries times.
func (d *DeBank) getTokens(ctx context.Context, endpoint, base string, q url.Values) ([]json.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.Retries; attempt++ {
		tokens, err := d.getTokensOnce(ctx, base, q)
		if err == nil {
			metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
			return tokens, nil
		}
		lastErr = err
		if attempt < d.cfg.Retries {
			d.logger.Debug("debank request failed, retrying", "endpoint", endpoint, "attempt", attempt, "error", err)
			if !sleepCtx(ctx, d.retryPause) {
				break
			}
		}
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "error").Inc()
	return nil, lastErr
}

func (d *DeBank) getTokensOnce(ctx context.Context, base string, q url.Values) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", debankUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", "https://debank.com")
	req.Header.Set("Referer", "https://debank.com/")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("debank API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("debank API status: %d", resp.StatusCode)
	}

	var body debankListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode debank: %w", err)
	}
	if body.ErrorCode != 0 {
		return nil, fmt.Errorf("debank error %d: %s", body.ErrorCode, body.ErrorMsg)
	}
	return body.Data, nil
}

func (d *DeBank) FetchSnapshot(ctx context.Context) (*monitor.Snapshot, error) {
	total, totalFrom := decimal.Zero, TotalFromPublic

	pro, ok := d.ProTotal(ctx)
	if ok {
		total, totalFrom = pro, TotalFromPro
	} else if d.cfg.Browser && d.browserTotal != nil {
		bt, err := d.browserTotal(ctx, d.cfg.Address)
		if err == nil && !portfolio.InRange(bt) {
			err = errors.New("profile total out of range")
		}
		if err != nil {
			d.logger.Warn("debank profile scrape failed", "error", err)
		} else {
			total, totalFrom = bt, TotalFromBrowser
		}
	}

	fb, skipped := d.FallbackTotals(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pct := fb.Percent()
	if totalFrom == TotalFromPublic {
		total = fb.Total
	} else {
		pct = portfolio.StablePercent(fb.Stable, total)
	}

	return &monitor.Snapshot{
		Source: d.Name(),
		Metrics: map[string]float64{
			"total_usd":          total.InexactFloat64(),
			"stable_usd":         fb.Stable.InexactFloat64(),
			"stable_pct":         pct.InexactFloat64(),
			"fallback_total_usd": fb.Total.InexactFloat64(),
			"tokens":             float64(fb.Count),
			"skipped":            float64(skipped),
		},
		Labels: map[string]string{
			"address":      d.cfg.Address,
			"chains":       strings.Join(d.cfg.Chains, ", "),
			"total_source": totalFrom,
			"access_key":   strconv.FormatBool(d.cfg.AccessKey != ""),
		},
		FetchedAt: time.Now(),
	}, nil
}

func (d *DeBank) FormatReport(snap, prev *monitor.Snapshot) string {
	var b strings.Builder
	b.WriteString("<b>DeBank Portfolio Total</b>\n")
	b.WriteString(fmt.Sprintf("Address: <code>%s</code>\n", html.EscapeString(snap.Label("address"))))
	b.WriteString(fmt.Sprintf("Chains (fallback): %s\n\n", html.EscapeString(snap.Label("chains"))))
	b.WriteString(fmt.Sprintf("Total USD: %s\n", monitor.FormatUSD(snap.Metric("total_usd"))))
	b.WriteString(fmt.Sprintf("Stable (fallback) USD: %s  (%.2f%%)",
		monitor.FormatUSD(snap.Metric("stable_usd")), snap.Metric("stable_pct")))

	if change := monitor.FormatChange(snap.Metric("total_usd"), prev.Metric("total_usd")); change != "" {
		b.WriteString("\nSince last report: " + change)
	}

	switch snap.Label("total_source") {
	case TotalFromBrowser:
		b.WriteString("\n\n<i>Total read from the DeBank profile page.</i>")
	case TotalFromPublic:
		if snap.Label("access_key") == "true" {
			b.WriteString("\n\n⚠️ <i>DeBank pro API unavailable, protocol positions (Morpho/Pendle) may be missing from the total.</i>")
		} else {
			b.WriteString("\n\n⚠️ <i>Without DEBANK_ACCESS_KEY, protocol positions (Morpho/Pendle) may be missing from the total.</i>")
		}
	}
	return b.String()
}

// sleepCtx pauses for d or until ctx is done. It reports whether the full
// pause elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
