package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/erp/agency/internal/infrastructure/auth"
	"github.com/erp/agency/internal/infrastructure/config"
)

// runToken prints a signed session token for local development:
//
//	agency token -user <id> [-ttl 24h]
func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "User id to put in the token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *userID == "" {
		fmt.Fprintln(os.Stderr, "token: -user is required")
		fs.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	token, err := auth.NewJWTService(cfg.Auth).Issue(*userID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
