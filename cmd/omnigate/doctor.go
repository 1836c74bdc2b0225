package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"omnigate/internal/authstore"
	"omnigate/internal/config"
	"omnigate/internal/domain"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your omnigate installation",
		Long: `Verifies that the configuration, data directory, credential store and
listener ports are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("omnigate doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var passed, failed, warned int

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'omnigate init' to create a default configuration.\n")
				return fmt.Errorf("config not found")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config validation", "valid")
			passed++

			if err := os.MkdirAll(cfg.General.DataDir, 0o700); err != nil {
				printFail("Data directory", err.Error())
				failed++
			} else {
				printPass("Data directory", cfg.General.DataDir)
				passed++
			}

			if err := checkStore(cfg); err != nil {
				printFail("Credential store", err.Error())
				failed++
			} else {
				printPass("Credential store", cfg.Storage.Driver)
				passed++
			}

			if len(cfg.Instances) == 0 {
				printWarn("Instances", "none configured")
				warned++
			}
			for _, e := range cfg.Instances {
				name := "Instance: " + e.ID
				switch {
				case e.Platform != string(domain.PlatformWhatsApp) && e.Token == "":
					printFail(name, e.Platform+" needs a bot token")
					failed++
				case e.Platform == string(domain.PlatformWhatsApp) && e.PhoneNumber == "":
					printPass(name, "whatsapp, QR pairing")
					passed++
				default:
					printPass(name, e.Platform)
					passed++
				}
			}

			if cfg.Relay.Enabled {
				if err := checkPort(cfg.Relay.Host, cfg.Relay.Port); err != nil {
					printWarn("Relay port", fmt.Sprintf("port %d may be in use: %v", cfg.Relay.Port, err))
					warned++
				} else {
					printPass("Relay port", fmt.Sprintf(":%d available", cfg.Relay.Port))
					passed++
				}
			}
			if cfg.Metrics.Enabled && !cfg.Relay.Enabled {
				if err := checkPort("", cfg.Metrics.Port); err != nil {
					printWarn("Metrics port", fmt.Sprintf("port %d may be in use: %v", cfg.Metrics.Port, err))
					warned++
				} else {
					printPass("Metrics port", fmt.Sprintf(":%d available", cfg.Metrics.Port))
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

// checkStore opens the credential store and round-trips a probe key.
func checkStore(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := authstore.Open(ctx, cfg.Storage.Driver, cfg.AuthDBPath(), cfg.Storage.DSN, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	key := domain.AuthKey("_doctor", "probe")
	if err := store.Set(ctx, key, []byte("ok")); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	if _, err := store.Get(ctx, key); err != nil {
		return fmt.Errorf("not readable: %w", err)
	}
	return store.Delete(ctx, key)
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
