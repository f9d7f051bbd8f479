package main

import (
	"fmt"
	"net"
	"strconv"

	"relaybot/internal/config"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, credentials and the listen port",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("relaybot %s\n\n", version)
			failed := 0

			cfg, cfgPath, err := loadConfig()
			if err != nil {
				printFail("config", err.Error())
				return fmt.Errorf("config check failed")
			}
			if cfgPath == "" {
				printPass("config", "defaults (no config file)")
			} else {
				printPass("config", cfgPath)
			}

			if err := config.CheckSecrets(cfg); err != nil {
				printFail("credentials", err.Error())
				failed++
			} else {
				printPass("credentials", "token and API keys present")
			}

			chain := cfg.Completion.Chain()
			for i, name := range chain {
				label := "fallback"
				if i == 0 {
					label = "primary"
				}
				printPass("provider", fmt.Sprintf("%s (%s, model %s)", name, label, cfg.Completion.Providers[name].Model))
			}

			switch cfg.Telegram.Mode {
			case "webhook":
				printPass("mode", "webhook -> "+cfg.Telegram.WebhookURL)
				if cfg.Telegram.SecretToken == "" {
					printWarn("secret token", "webhook requests are not authenticated")
				}
			default:
				printPass("mode", "long polling")
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printFail("port", err.Error())
				failed++
			} else {
				printPass("port", fmt.Sprintf("%d available", cfg.Server.Port))
			}

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Printf("\nAll checks passed. relaybot is ready to serve.\n")
			return nil
		},
	}
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
