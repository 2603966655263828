package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored configuration and token state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Server URL: %s\n", valueOrDefault(cfg.Default.ServerURL, "(default)"))

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Username == "" {
			fmt.Println("  Username:   (not logged in)")
			return nil
		}
		fmt.Printf("  Username:   %s\n", cfg.Auth.Username)
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:      %s\n", maskToken(cfg.Auth.Token))
		}

		status := "present (no expiry set)"
		statusColor := color.New(color.FgYellow)
		if cfg.Auth.TokenExpires != "" {
			expires, err := time.Parse(time.RFC3339, cfg.Auth.TokenExpires)
			switch {
			case err != nil:
				status = fmt.Sprintf("present (unparseable expiry: %s)", cfg.Auth.TokenExpires)
			case time.Now().Before(expires):
				status = fmt.Sprintf("valid (expires %s)", expires.Format(time.RFC3339))
				statusColor = color.New(color.FgGreen)
			default:
				status = fmt.Sprintf("EXPIRED (expired %s)", expires.Format(time.RFC3339))
				statusColor = color.New(color.FgRed)
			}
		}
		fmt.Printf("  Status:     %s\n", statusColor.Sprint(status))
		return nil
	},
}

// maskToken shows the first 12 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 16 {
		return token[:4] + "..." + token[len(token)-4:]
	}
	return token[:12] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
