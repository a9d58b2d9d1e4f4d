package sources

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"
)

const profileLoadTimeout = 60 * time.Second

// profileTotal renders the public DeBank profile in headless Chrome and reads
// the headline net worth, which includes protocol positions.
func profileTotal(ctx context.Context, address string) (decimal.Decimal, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-crash-reporter", true),
		chromedp.Flag("crash-dumps-dir", "/tmp"),
		chromedp.UserDataDir("/tmp/chromedp-profile"),
		chromedp.UserAgent(debankUserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	bctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	bctx, cancel = context.WithTimeout(bctx, profileLoadTimeout)
	defer cancel()

	var text string
	if err := chromedp.Run(bctx,
		chromedp.Navigate(debankProfileURL+address),
		chromedp.WaitVisible(profileTotalSelector, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(extractTotalJS, &text),
	); err != nil {
		return decimal.Zero, fmt.Errorf("chromedp profile: %w", err)
	}
	return parseUSDText(text)
}

// profileTotalSelector matches the net-worth header; DeBank hashes class
// suffixes so only the stable prefix is matched.
const profileTotalSelector = `[class*="HeaderInfo_totalAssetInner"]`

// extractTotalJS is evaluated in the browser to pull the header total text.
const extractTotalJS = `
(() => {
	const el = document.querySelector('[class*="HeaderInfo_totalAssetInner"]');
	if (!el) return '';
	// The first text node carries the amount; children hold the 24h change.
	for (const node of el.childNodes) {
		if (node.nodeType === Node.TEXT_NODE && node.textContent.trim()) {
			return node.textContent.trim();
		}
	}
	return (el.textContent || '').trim().split(/\s/)[0];
})()
`

var usdTextRe = regexp.MustCompile(`-?\$?\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*([KMB])?`)

// parseUSDText parses header amounts like "$12,345.67", "$1.2M" or "$980K".
func parseUSDText(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	m := usdTextRe.FindStringSubmatch(s)
	if m == nil {
		return decimal.Zero, fmt.Errorf("no USD amount in %q", s)
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse USD amount %q: %w", s, err)
	}
	switch m[2] {
	case "K":
		v = v.Shift(3)
	case "M":
		v = v.Shift(6)
	case "B":
		v = v.Shift(9)
	}
	if strings.HasPrefix(m[0], "-") {
		v = v.Neg()
	}
	return v, nil
}
