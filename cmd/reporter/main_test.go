package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/web3-frozen/portfolio-reporter/internal/config"
	"github.com/web3-frozen/portfolio-reporter/internal/monitor"
)

func testConfig() config.Config {
	return config.Config{
		DebankAddress: "0xenv",
		DebankChains:  []string{"eth", "base"},
		MorphoChainID: 1,
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	o, err := parseFlags(nil, testConfig(), io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if o.address != "0xenv" || o.vaultChain != 1 || o.dryRun {
		t.Errorf("options = %+v", o)
	}
	if !reflect.DeepEqual(o.chains, []string{"eth", "base"}) {
		t.Errorf("chains = %v, want env chains", o.chains)
	}
	if !o.wantPortfolio() || !o.wantVault() {
		t.Error("both reports should be selected by default")
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	args := []string{"-address", "0xflag", "-chains", "arbitrum,OP", "-only", "vault",
		"-vault", "0xvault", "-vault-chain", "8453", "-dry-run"}
	o, err := parseFlags(args, testConfig(), io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	want := options{
		address:    "0xflag",
		chains:     []string{"arbitrum", "op"},
		only:       "vault",
		vault:      "0xvault",
		vaultChain: 8453,
		dryRun:     true,
	}
	if !reflect.DeepEqual(o, want) {
		t.Errorf("options = %+v, want %+v", o, want)
	}
	if o.wantPortfolio() || !o.wantVault() {
		t.Error("-only vault should select the vault report alone")
	}
}

func TestParseFlagsErrors(t *testing.T) {
	noAddr := testConfig()
	noAddr.DebankAddress = ""

	tests := []struct {
		name string
		args []string
		cfg  config.Config
	}{
		{"unknown flag", []string{"-bogus"}, testConfig()},
		{"bad only", []string{"-only", "everything"}, testConfig()},
		{"portfolio without address", []string{"-only", "portfolio"}, noAddr},
		{"bad chain id", []string{"-vault-chain", "0"}, testConfig()},
		{"positional args", []string{"extra"}, testConfig()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseFlags(tt.args, tt.cfg, io.Discard); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	fetchErr := &monitor.RunError{Errors: []*monitor.SourceError{
		{Source: "portfolio", Stage: monitor.StageFetch, Err: errors.New("timeout")},
	}}
	sendErr := &monitor.RunError{Errors: []*monitor.SourceError{
		{Source: "portfolio", Stage: monitor.StageFetch, Err: errors.New("timeout")},
		{Source: "vault", Stage: monitor.StageSend, Err: errors.New("403")},
	}}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, exitOK},
		{"fetch failed", fetchErr, exitFetchFailed},
		{"send failed", sendErr, exitSendFailed},
		{"wrapped", fmt.Errorf("run: %w", fetchErr), exitFetchFailed},
		{"other", errors.New("boom"), exitSendFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunMissingCredentials(t *testing.T) {
	var stdout bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	code := run(context.Background(), nil, testConfig(), &stdout, io.Discard, logger)
	if code != exitUsage {
		t.Errorf("exit code = %d, want %d", code, exitUsage)
	}
	if stdout.Len() != 0 {
		t.Errorf("unexpected output: %q", stdout.String())
	}
}

func TestRunBadFlags(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	code := run(context.Background(), []string{"-only", "nope"}, testConfig(), io.Discard, io.Discard, logger)
	if code != exitUsage {
		t.Errorf("exit code = %d, want %d", code, exitUsage)
	}
}

func TestRunHelp(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-h"}, testConfig(), io.Discard, &stderr, logger)
	if code != exitOK {
		t.Errorf("exit code = %d, want %d", code, exitOK)
	}
	if !bytes.Contains(stderr.Bytes(), []byte("-dry-run")) {
		t.Errorf("usage missing -dry-run:\n%s", stderr.String())
	}
}
