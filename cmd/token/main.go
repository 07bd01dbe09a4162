// Command token mints an access token for local development.
//
// Usage:
//
//	token --tenant=<id> [--actor=<id>] [--app=todo]
//
// Reads the auth settings from the same configuration as the server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/heartmarshall/tenantkit/internal/auth"
	"github.com/heartmarshall/tenantkit/internal/config"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

func main() {
	tenant := flag.String("tenant", "", "tenant (organization) id")
	actor := flag.String("actor", "", "acting user id; generated when empty")
	appName := flag.String("app", "", "app claim")
	flag.Parse()

	if *tenant == "" {
		fmt.Fprintln(os.Stderr, "Usage: token --tenant=<id> [--actor=<id>] [--app=todo]")
		os.Exit(1)
	}
	if *actor == "" {
		*actor = ids.New()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	m := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL)
	tok, err := m.GenerateAccessToken(auth.Identity{ActorID: *actor, TenantID: *tenant, App: *appName})
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Println(tok)
}
