// Command reporter fetches the portfolio and vault reports once and sends
// them to the configured Telegram chat.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/web3-frozen/portfolio-reporter/internal/config"
	"github.com/web3-frozen/portfolio-reporter/internal/monitor"
	"github.com/web3-frozen/portfolio-reporter/internal/monitor/sources"
	"github.com/web3-frozen/portfolio-reporter/internal/telegram"
)

// Exit codes.
const (
	exitOK          = 0
	exitUsage       = 1
	exitSendFailed  = 2
	exitFetchFailed = 3
)

type options struct {
	address    string
	chains     []string
	only       string
	vault      string
	vaultChain int
	dryRun     bool
}

func (o options) wantPortfolio() bool { return o.only == "" || o.only == "portfolio" }
func (o options) wantVault() bool     { return o.only == "" || o.only == "vault" }

func parseFlags(args []string, cfg config.Config, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("reporter", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		o      options
		chains string
	)
	fs.StringVar(&o.address, "address", cfg.DebankAddress, "EVM address for the portfolio report (env DEBANK_ADDRESS)")
	fs.StringVar(&chains, "chains", "", "comma-separated DeBank chain ids for the per-chain fallback (env DEBANK_CHAINS)")
	fs.StringVar(&o.only, "only", "", `send a single report: "portfolio" or "vault"`)
	fs.StringVar(&o.vault, "vault", cfg.MorphoVault, "Morpho vault address (env MORPHO_VAULT)")
	fs.IntVar(&o.vaultChain, "vault-chain", cfg.MorphoChainID, "Morpho vault chain id (env MORPHO_CHAIN_ID)")
	fs.BoolVar(&o.dryRun, "dry-run", false, "print the reports instead of sending them")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	o.chains = cfg.DebankChains
	if chains != "" {
		o.chains = config.ParseChains(chains)
	}

	switch o.only {
	case "", "portfolio", "vault":
	default:
		return options{}, fmt.Errorf(`-only must be "portfolio" or "vault", got %q`, o.only)
	}
	if o.only == "portfolio" && o.address == "" {
		return options{}, errors.New("-address (or DEBANK_ADDRESS) is required for the portfolio report")
	}
	if o.vaultChain <= 0 {
		return options{}, fmt.Errorf("-vault-chain must be positive, got %d", o.vaultChain)
	}
	return o, nil
}

// exitCode maps a run error to the process exit code. Send failures win
// over fetch failures.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var runErr *monitor.RunError
	if errors.As(err, &runErr) {
		if runErr.Failed(monitor.StageSend) {
			return exitSendFailed
		}
		if runErr.Failed(monitor.StageFetch) {
			return exitFetchFailed
		}
	}
	return exitSendFailed
}

func run(ctx context.Context, args []string, cfg config.Config, stdout, stderr io.Writer, logger *slog.Logger) int {
	o, err := parseFlags(args, cfg, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		logger.Error("invalid flags", "error", err)
		return exitUsage
	}

	if !o.dryRun {
		if err := cfg.RequireTelegram(); err != nil {
			logger.Error("telegram credentials missing", "error", err)
			return exitUsage
		}
	}

	bot := telegram.NewBot(cfg.TelegramToken, cfg.ChatID, logger)
	engine := monitor.NewEngine(nil, logger, bot.Notify, nil)

	if o.wantPortfolio() {
		if o.address == "" {
			logger.Warn("no address configured, skipping portfolio report")
		} else {
			engine.Register(sources.NewDeBank(sources.DeBankConfig{
				Address:   o.address,
				Chains:    o.chains,
				AccessKey: cfg.DebankAccessKey,
				Retries:   cfg.DebankRetries,
				Browser:   cfg.DebankBrowser,
			}, logger))
		}
	}
	if o.wantVault() {
		engine.Register(sources.NewMorpho(o.vault, o.vaultChain))
	}

	if o.dryRun {
		reports, err := engine.Preview(ctx)
		for _, name := range engine.SourceNames() {
			if msg, ok := reports[name]; ok {
				fmt.Fprintf(stdout, "----- %s -----\n%s\n\n", name, msg)
			}
		}
		if err != nil {
			logger.Error("preview failed", "error", err)
		}
		return exitCode(err)
	}

	if err := engine.RunOnce(ctx); err != nil {
		logger.Error("report run failed", "error", err)
		return exitCode(err)
	}
	logger.Info("all reports sent", "sources", engine.SourceNames())
	return exitOK
}

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], cfg, os.Stdout, os.Stderr, logger)
	stop()
	os.Exit(code)
}
