package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	relaychat "github.com/relaychat/relaychat-go"
)

// getClient creates a REST client from the stored configuration,
// authenticated when a token has been saved.
func getClient() *relaychat.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var opts []relaychat.ClientOption
	if cfg.Default.ServerURL != "" {
		opts = append(opts, relaychat.WithBaseURL(cfg.Default.ServerURL))
	}
	if cfg.Auth.Token != "" {
		opts = append(opts, relaychat.WithToken(cfg.Auth.Token))
	}
	return relaychat.NewClient("", opts...)
}

// getAuthedClient is getClient but exits when no token is stored.
func getAuthedClient() *relaychat.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'relaychat login <username>' first.")
		os.Exit(1)
	}
	return getClient()
}

// promptPassword reads a password from stdin when none was given by flag.
func promptPassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Print("Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// storeAuth persists the login result for later commands.
func storeAuth(username, token string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Auth.Username = username
	cfg.Auth.Token = token
	cfg.Auth.TokenExpires = ""
	if _, expiresAt, err := relaychat.TokenClaims(token); err == nil && !expiresAt.IsZero() {
		cfg.Auth.TokenExpires = expiresAt.Format(time.RFC3339)
	}
	return saveConfig(cfg)
}
