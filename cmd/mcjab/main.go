// Command mcjab is the thin driver that loads configuration, picks an
// account, wires internal/app.App, and drives it from a bubbletea event
// loop. This driver's "view" is minimal: it exists to prove the core runs
// end to end, not to paint a full roster/chat terminal UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tvardek/mcjab/internal/app"
	"github.com/tvardek/mcjab/internal/config"
	"github.com/tvardek/mcjab/internal/logging"
)

func main() {
	accountFlag := flag.String("account", "", "bare JID of the account to connect (defaults to the first configured account)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcjab: load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcjab: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	account, err := selectAccount(*accountFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcjab: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, logger, account)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcjab: init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	p := tea.NewProgram(newDriver(a))
	a.SetProgram(p)

	if account.AutoConnect {
		go func() {
			if err := a.Connect(context.Background()); err != nil {
				logger.Error("connect: %v", err)
			}
		}()
	}

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "mcjab: %v\n", err)
		os.Exit(1)
	}
}

// selectAccount resolves which configured account to run, by bare JID when
// given, else the first account; with no accounts configured it returns an
// error.
func selectAccount(wantJID string) (config.Account, error) {
	accounts, err := config.LoadAccounts()
	if err != nil {
		return config.Account{}, fmt.Errorf("load accounts: %w", err)
	}
	if wantJID != "" {
		for _, acc := range accounts.Accounts {
			if acc.JID == wantJID {
				return acc, nil
			}
		}
		return config.Account{}, fmt.Errorf("no configured account for %s", wantJID)
	}
	if len(accounts.Accounts) > 0 {
		return accounts.Accounts[0], nil
	}
	return config.Account{}, fmt.Errorf("no accounts configured; add one to accounts.toml")
}
