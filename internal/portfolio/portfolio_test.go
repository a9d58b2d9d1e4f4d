package portfolio

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestIsStable(t *testing.T) {
	tests := []struct {
		symbol string
		want   bool
	}{
		{"USDC", true},
		{"USDC.e", true},
		{"crvUSD", true},
		{" sUSDe ", true},
		{"usdc", false}, // exact match only
		{"CRVUSD", false},
		{"ETH", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsStable(tt.symbol); got != tt.want {
			t.Errorf("IsStable(%q) = %v, want %v", tt.symbol, got, tt.want)
		}
	}
}

func TestAccumulate(t *testing.T) {
	tokens := []Token{
		{Symbol: "ETH", Amount: d("1.5"), Price: d("3000")},
		{Symbol: "USDC", Amount: d("2500.25"), Price: d("1")},
		{Symbol: "DAI", Amount: d("100"), Price: d("0.9995")},
		{Symbol: "WBTC", Amount: d("0.01"), Price: d("95000")},
	}

	got := Accumulate(tokens)

	sum := decimal.Zero
	for _, tok := range tokens {
		sum = sum.Add(tok.Value())
	}
	if !got.Total.Equal(sum) {
		t.Errorf("Total = %s, want sum of values %s", got.Total, sum)
	}
	if !got.Total.Equal(d("8050.20")) {
		t.Errorf("Total = %s, want 8050.20", got.Total)
	}
	if !got.Stable.Equal(d("2600.20")) {
		t.Errorf("Stable = %s, want 2600.20", got.Stable)
	}
	if got.Count != 4 {
		t.Errorf("Count = %d, want 4", got.Count)
	}
}

func TestAccumulateEmpty(t *testing.T) {
	got := Accumulate(nil)
	if !got.Total.IsZero() || !got.Stable.IsZero() || got.Count != 0 {
		t.Errorf("Accumulate(nil) = %+v, want zero totals", got)
	}
	if !got.Percent().IsZero() {
		t.Errorf("Percent() = %s, want 0", got.Percent())
	}
}

func TestStablePercent(t *testing.T) {
	tests := []struct {
		name          string
		stable, total string
		want          string
	}{
		{"zero total", "0", "0", "0"},
		{"stable without total", "10", "0", "0"},
		{"negative total", "10", "-5", "0"},
		{"quarter", "25", "100", "25"},
		{"all stable", "1234.5", "1234.5", "100"},
		{"none stable", "0", "500", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StablePercent(d(tt.stable), d(tt.total))
			if !got.Equal(d(tt.want)) {
				t.Errorf("StablePercent(%s, %s) = %s, want %s", tt.stable, tt.total, got, tt.want)
			}
		})
	}
}

func TestParseTokens(t *testing.T) {
	body := `[
		{"symbol": "ETH", "amount": 2, "price": 3000.5},
		{"symbol": " USDC ", "amount": "150.25", "price": "1"},
		{"symbol": "DUST", "amount": null, "price": 0.3},
		{"symbol": "NOPRICE", "amount": 5},
		{"symbol": "BAD", "amount": "abc", "price": 1},
		{"symbol": "BADPRICE", "amount": 1, "price": {"usd": 1}},
		{"symbol": 42, "amount": 1, "price": 1},
		"not an object",
		null,
		{"symbol": "EMPTY", "amount": "", "price": 1},
		{"symbol": "HUGE", "amount": 1e400, "price": 1},
		{"symbol": "HUGEPRICE", "amount": 1, "price": "1e400"},
		{"symbol": "OVERFLOW", "amount": 1e200, "price": 1e200}
	]`
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	tokens, skipped := ParseTokens(raw)

	if skipped != 8 {
		t.Errorf("skipped = %d, want 8", skipped)
	}
	if len(tokens) != 5 {
		t.Fatalf("len(tokens) = %d, want 5", len(tokens))
	}
	if tokens[1].Symbol != "USDC" {
		t.Errorf("symbol not trimmed: %q", tokens[1].Symbol)
	}
	if !tokens[2].Amount.IsZero() {
		t.Errorf("null amount = %s, want 0", tokens[2].Amount)
	}
	if !tokens[3].Price.IsZero() {
		t.Errorf("missing price = %s, want 0", tokens[3].Price)
	}

	totals := Accumulate(tokens)
	if !totals.Total.Equal(d("6151.25")) {
		t.Errorf("Total = %s, want 6151.25", totals.Total)
	}
	if !totals.Stable.Equal(d("150.25")) {
		t.Errorf("Stable = %s, want 150.25", totals.Stable)
	}
}

func TestInRange(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0", true},
		{"0.000", true},
		{"-1234.56", true},
		{"0.0000001", true},
		{"1e308", true},
		{"1e309", false},
		{"1e400", false},
		{"-1e400", false},
		{"1e999999999", false},
		{"1e-400", false},
		{"1e-999999999", false},
	}
	for _, tt := range tests {
		if got := InRange(d(tt.in)); got != tt.want {
			t.Errorf("InRange(%s) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`12.5`, "12.5", false},
		{`"12.5"`, "12.5", false},
		{`1e3`, "1000", false},
		{`null`, "0", false},
		{``, "0", false},
		{`" "`, "0", false},
		{`"x"`, "", true},
		{`true`, "", true},
	}
	for _, tt := range tests {
		got, err := parseNumber(json.RawMessage(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("parseNumber(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !got.Equal(d(tt.want)) {
			t.Errorf("parseNumber(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
