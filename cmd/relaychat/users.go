package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(usersCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List all registered users",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		users, err := client.Users(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch users: %w", err)
		}

		self := color.New(color.FgCyan, color.Bold)
		for _, u := range users {
			if u == cfg.Auth.Username {
				self.Printf("%s (you)\n", u)
			} else {
				fmt.Println(u)
			}
		}
		return nil
	},
}
