package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"omnigate/internal/config"
	"omnigate/internal/domain"

	"github.com/spf13/cobra"
)

var knownPlatforms = []struct {
	ID   domain.Platform
	Desc string
}{
	{domain.PlatformWhatsApp, "WhatsApp account (QR or phone code pairing)"},
	{domain.PlatformDiscord, "Discord bot"},
	{domain.PlatformTelegram, "Telegram bot"},
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: add an instance and save the config",
		Long:  "Asks for the instance id, platform and credentials, appends the instance to the config at --config or the default path, and saves it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runWizard(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			last := cfg.Instances[len(cfg.Instances)-1]
			fmt.Printf("\nConfig saved to %s\n", cfgPath)
			if last.Platform == string(domain.PlatformWhatsApp) {
				fmt.Printf("Next: run 'omnigate pair %s' to link the account.\n", last.ID)
			} else {
				fmt.Println("Next: run 'omnigate serve'.")
			}
			return nil
		},
	}
}

// runWizard appends one instance to cfg from answers read on in.
func runWizard(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Platform ---")
	for i, p := range knownPlatforms {
		fmt.Fprintf(out, "  %d) %s (%s)\n", i+1, p.ID, p.Desc)
	}
	fmt.Fprint(out, "Choose platform (1-3)")
	choice, err := prompt("1")
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(knownPlatforms) {
		idx = 1
	}
	platform := knownPlatforms[idx-1].ID

	fmt.Fprintln(out, "\n--- Step 2: Instance ---")
	fmt.Fprint(out, "Instance id")
	id, err := prompt(fmt.Sprintf("%s-%d", platform, len(cfg.Instances)+1))
	if err != nil {
		return err
	}
	entry := config.InstanceEntry{ID: id, Platform: string(platform), AutoConnect: true}

	switch platform {
	case domain.PlatformWhatsApp:
		fmt.Fprint(out, "Phone number for code pairing (empty for QR)")
		if entry.PhoneNumber, err = prompt(""); err != nil {
			return err
		}
	case domain.PlatformDiscord:
		fmt.Fprint(out, "Bot token (or ${DISCORD_TOKEN})")
		if entry.Token, err = prompt(""); err != nil {
			return err
		}
		fmt.Fprint(out, "Restrict to guild id (empty for all)")
		if entry.GuildID, err = prompt(""); err != nil {
			return err
		}
	case domain.PlatformTelegram:
		fmt.Fprint(out, "Bot token from @BotFather (or ${TELEGRAM_TOKEN})")
		if entry.Token, err = prompt(""); err != nil {
			return err
		}
	}

	fmt.Fprint(out, "Allowed sender ids, comma separated (empty for everyone)")
	allow, err := prompt("")
	if err != nil {
		return err
	}
	for _, a := range strings.Split(allow, ",") {
		if a = strings.TrimSpace(a); a != "" {
			entry.AllowFrom = append(entry.AllowFrom, a)
		}
	}

	cfg.Instances = append(cfg.Instances, entry)
	if err := config.Validate(cfg); err != nil {
		cfg.Instances = cfg.Instances[:len(cfg.Instances)-1]
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}
