package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the gateway configuration",
		Long: `Verifies that the gateway's configuration, LINE credentials, backends,
and event store are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("linegw doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s (environment-only setup)", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n1 check failed\n")
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", fmt.Sprintf("reply mode %q", cfg.Routing.Mode))
			passed++

			// 3. LINE credentials
			if cfg.Line.ChannelSecret == "" {
				printWarn("Channel secret", "empty: webhook signatures will NOT be verified")
				warned++
			} else {
				printPass("Channel secret", "configured")
				passed++
			}
			if cfg.Line.ChannelAccessToken == "" {
				printFail("Access token", "empty: replies and pushes will fail")
				failed++
			} else {
				printPass("Access token", "configured")
				passed++
			}

			// 4. Backend URLs parse
			for name, u := range map[string]string{
				"Legacy backend": cfg.Backends.LegacyURL,
				"Modern backend": cfg.Backends.ModernURL,
				"Query base":     cfg.Backends.QueryBase,
			} {
				if u == "" {
					printWarn(name, "not configured")
					warned++
					continue
				}
				if _, err := url.ParseRequestURI(u); err != nil {
					printFail(name, fmt.Sprintf("invalid URL: %v", err))
					failed++
				} else {
					printPass(name, u)
					passed++
				}
			}

			// 5. Event store writable
			if cfg.Store.Driver == "sqlite" {
				if err := checkSQLite(cfg.Store.Path); err != nil {
					printFail("Event store", err.Error())
					failed++
				} else {
					printPass("Event store", cfg.Store.Path)
					passed++
				}
			} else {
				printWarn("Event store", "postgres configured; run 'serve' to verify connectivity")
				warned++
			}

			// 6. Port available
			if err := checkPort(cfg.Server.Port); err != nil {
				printWarn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the gateway.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe gateway should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! The gateway is ready to run.\n")
			}
			return nil
		},
	}
}

func checkSQLite(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(name, detail string) {
	fmt.Printf("  ✓ %-18s %s\n", name, detail)
}

func printFail(name, detail string) {
	fmt.Printf("  ✗ %-18s %s\n", name, detail)
}

func printWarn(name, detail string) {
	fmt.Printf("  ! %-18s %s\n", name, detail)
}
