package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/web3-frozen/portfolio-reporter/internal/metrics"
	"github.com/web3-frozen/portfolio-reporter/internal/monitor"
)

const (
	morphoGraphQLAPI = "https://api.morpho.org/graphql"

	// DefaultMorphoVault is Steakhouse USDT on Ethereum mainnet.
	DefaultMorphoVault   = "0xbEef047a543E45807105E51A8BBEFCc5950fcfBa"
	DefaultMorphoChainID = 1
)

const vaultQuery = `query VaultState($address: String!, $chainId: Int!) {
  vaultByAddress(address: $address, chainId: $chainId) {
    name
    symbol
    state {
      totalAssetsUsd
      netApy
      dailyNetApy
      weeklyNetApy
      monthlyNetApy
    }
  }
}`

// Morpho reports TVL and net APY figures for a single Morpho vault.
type Morpho struct {
	client  *http.Client
	baseURL string
	vault   string
	chainID int
}

func NewMorpho(vault string, chainID int) *Morpho {
	if vault == "" {
		vault = DefaultMorphoVault
	}
	if chainID == 0 {
		chainID = DefaultMorphoChainID
	}
	return &Morpho{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: morphoGraphQLAPI,
		vault:   vault,
		chainID: chainID,
	}
}

func (m *Morpho) Name() string { return "vault" }
func (m *Morpho) URL() string {
	return fmt.Sprintf("https://app.morpho.org/%s/vault/%s", morphoNetwork(m.chainID), m.vault)
}

// VaultState holds the vault figures. APYs are fractions (0.05 = 5%).
type VaultState struct {
	Name           string
	Symbol         string
	TotalAssetsUSD float64
	NetAPY         float64
	DailyNetAPY    float64
	WeeklyNetAPY   float64
	MonthlyNetAPY  float64
}

type vaultResponse struct {
	Data struct {
		VaultByAddress *struct {
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
			State  *struct {
				TotalAssetsUsd *float64 `json:"totalAssetsUsd"`
				NetApy         *float64 `json:"netApy"`
				DailyNetApy    *float64 `json:"dailyNetApy"`
				WeeklyNetApy   *float64 `json:"weeklyNetApy"`
				MonthlyNetApy  *float64 `json:"monthlyNetApy"`
			} `json:"state"`
		} `json:"vaultByAddress"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchVaultState queries the Morpho GraphQL API.
func (m *Morpho) FetchVaultState(ctx context.Context) (*VaultState, error) {
	body, err := json.Marshal(map[string]any{
		"query": vaultQuery,
		"variables": map[string]any{
			"address": m.vault,
			"chainId": m.chainID,
		},
	})
	if err != nil {
		return nil, err
	}

	resp, err := m.graphql(ctx, body)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("morpho_graphql", "error").Inc()
		return nil, err
	}

	var result vaultResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("morpho_graphql", "error").Inc()
		return nil, fmt.Errorf("unmarshal vault: %w", err)
	}
	if len(result.Errors) > 0 {
		metrics.UpstreamRequestsTotal.WithLabelValues("morpho_graphql", "error").Inc()
		msgs := make([]string, len(result.Errors))
		for i, e := range result.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("morpho graphql: %s", strings.Join(msgs, "; "))
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("morpho_graphql", "ok").Inc()

	v := result.Data.VaultByAddress
	if v == nil || v.State == nil {
		return nil, fmt.Errorf("no vault data for %s on chain %d", m.vault, m.chainID)
	}
	return &VaultState{
		Name:           v.Name,
		Symbol:         v.Symbol,
		TotalAssetsUSD: deref(v.State.TotalAssetsUsd),
		NetAPY:         deref(v.State.NetApy),
		DailyNetAPY:    deref(v.State.DailyNetApy),
		WeeklyNetAPY:   deref(v.State.WeeklyNetApy),
		MonthlyNetAPY:  deref(v.State.MonthlyNetApy),
	}, nil
}

func (m *Morpho) FetchSnapshot(ctx context.Context) (*monitor.Snapshot, error) {
	st, err := m.FetchVaultState(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch vault state: %w", err)
	}

	name := st.Name
	if name == "" {
		name = m.vault
	}
	return &monitor.Snapshot{
		Source: m.Name(),
		Metrics: map[string]float64{
			"tvl":         st.TotalAssetsUSD,
			"net_apy":     st.NetAPY * 100,
			"daily_apy":   st.DailyNetAPY * 100,
			"weekly_apy":  st.WeeklyNetAPY * 100,
			"monthly_apy": st.MonthlyNetAPY * 100,
		},
		Labels: map[string]string{
			"vault":  m.vault,
			"name":   name,
			"symbol": st.Symbol,
		},
		FetchedAt: time.Now(),
	}, nil
}

func (m *Morpho) FormatReport(snap, prev *monitor.Snapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("<b>Morpho – %s</b>\n", html.EscapeString(snap.Label("name"))))
	b.WriteString(fmt.Sprintf("<code>%s</code>\n\n", snap.FetchedAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	b.WriteString(fmt.Sprintf("TVL: %s\n", monitor.FormatUSD(snap.Metric("tvl"))))
	b.WriteString(fmt.Sprintf("Net APY: %.2f%%\n", snap.Metric("net_apy")))
	b.WriteString(fmt.Sprintf("Daily APY: %.3f%%\n", snap.Metric("daily_apy")))
	b.WriteString(fmt.Sprintf("Weekly APY: %.3f%%\n", snap.Metric("weekly_apy")))
	b.WriteString(fmt.Sprintf("Monthly APY: %.3f%%", snap.Metric("monthly_apy")))
	if change := monitor.FormatChange(snap.Metric("tvl"), prev.Metric("tvl")); change != "" {
		b.WriteString("\nTVL since last report: " + change)
	}
	return b.String()
}

func (m *Morpho) graphql(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("morpho API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graphql request failed: %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func morphoNetwork(chainID int) string {
	switch chainID {
	case 1:
		return "ethereum"
	case 8453:
		return "base"
	default:
		return fmt.Sprintf("chain-%d", chainID)
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
