// Package portfolio accumulates USD values over token holdings reported by a
// portfolio tracker and classifies the stablecoin share.
package portfolio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// stableSymbols are the USD-pegged assets counted towards the stable total.
// Matching is exact after trimming surrounding whitespace.
var stableSymbols = map[string]bool{
	"USDT": true, "USDC": true, "USDC.e": true, "DAI": true, "FRAX": true,
	"LUSD": true, "GUSD": true, "TUSD": true, "USDP": true, "USDV": true,
	"crvUSD": true, "USDe": true, "sUSDe": true, "USDY": true, "PYUSD": true,
	"sFRAX": true, "USDM": true, "OUSG": true, "USDbC": true, "USDT.e": true,
	"USDTb": true, "USDC.b": true,
}

// IsStable reports whether symbol is a known USD stablecoin.
func IsStable(symbol string) bool {
	return stableSymbols[strings.TrimSpace(symbol)]
}

// Token is a single holding: amount of an asset at a unit USD price.
type Token struct {
	Symbol string
	Amount decimal.Decimal
	Price  decimal.Decimal
}

// Value returns Amount × Price.
func (t Token) Value() decimal.Decimal {
	return t.Amount.Mul(t.Price)
}

// Totals is the result of accumulating a token list.
type Totals struct {
	Total  decimal.Decimal
	Stable decimal.Decimal
	Count  int
}

// Percent returns the stable share of t.Total.
func (t Totals) Percent() decimal.Decimal {
	return StablePercent(t.Stable, t.Total)
}

// Accumulate sums token values and the stablecoin subset.
func Accumulate(tokens []Token) Totals {
	var t Totals
	for _, tok := range tokens {
		v := tok.Value()
		t.Total = t.Total.Add(v)
		if IsStable(tok.Symbol) {
			t.Stable = t.Stable.Add(v)
		}
		t.Count++
	}
	return t
}

// StablePercent returns stable / total × 100, or zero when total is not positive.
func StablePercent(stable, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return stable.Div(total).Mul(hundred)
}

type tokenRecord struct {
	Symbol string          `json:"symbol"`
	Amount json.RawMessage `json:"amount"`
	Price  json.RawMessage `json:"price"`
}

// ParseTokens decodes raw token records one by one. Records that are not
// objects or carry a non-numeric amount or price are skipped and counted, as
// are records whose amount, price or value does not fit a float64.
// A missing or null amount/price counts as zero.
func ParseTokens(raw []json.RawMessage) ([]Token, int) {
	tokens := make([]Token, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		tok, err := parseToken(r)
		if err != nil {
			skipped++
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens, skipped
}

func parseToken(raw json.RawMessage) (Token, error) {
	var rec tokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Token{}, err
	}
	if rec.Amount == nil && rec.Price == nil && bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Token{}, fmt.Errorf("null token record")
	}
	amount, err := parseNumber(rec.Amount)
	if err != nil {
		return Token{}, fmt.Errorf("amount: %w", err)
	}
	price, err := parseNumber(rec.Price)
	if err != nil {
		return Token{}, fmt.Errorf("price: %w", err)
	}
	tok := Token{Symbol: strings.TrimSpace(rec.Symbol), Amount: amount, Price: price}
	for _, v := range []decimal.Decimal{amount, price, tok.Value()} {
		if !InRange(v) {
			return Token{}, fmt.Errorf("%s: out of float64 range", tok.Symbol)
		}
	}
	return tok, nil
}

// InRange reports whether v is zero or has a magnitude a float64 can hold
// without overflowing to an infinity or underflowing past the subnormals.
func InRange(v decimal.Decimal) bool {
	if v.IsZero() {
		return true
	}
	// order of magnitude, bounded before the exact conversion below
	mag := int64(v.Exponent()) + int64(v.NumDigits())
	if mag > 310 || mag < -330 {
		return false
	}
	f := v.InexactFloat64()
	return f != 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// parseNumber accepts a JSON number, a numeric string, or null.
func parseNumber(raw json.RawMessage) (decimal.Decimal, error) {
	s := string(bytes.TrimSpace(raw))
	if s == "" || s == "null" {
		return decimal.Zero, nil
	}
	if strings.HasPrefix(s, `"`) {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return decimal.Zero, err
		}
		s = strings.TrimSpace(unq)
		if s == "" {
			return decimal.Zero, nil
		}
	}
	return decimal.NewFromString(s)
}
