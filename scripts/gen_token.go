package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/chungtau/ledger-payments/internal/auth"
)

func main() {
	clientID := flag.String("client", "", "Client ID (default: generate new UUID)")
	secret := flag.String("secret", "dev-secret-key", "JWT secret key")
	expiry := flag.Duration("expiry", time.Hour, "Token lifetime")
	flag.Parse()

	sub := *clientID
	if sub == "" {
		sub = uuid.New().String()
	}

	token, expiresAt, err := auth.IssueToken(*secret, sub, *expiry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Generated JWT Token ===")
	fmt.Printf("Client ID:  %s\n", sub)
	fmt.Printf("Expires At: %s\n", expiresAt.UTC().Format(time.RFC3339))
	fmt.Println("")
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Printf("curl -H \"Authorization: Bearer %s\" http://localhost:8080/v1/accounts\n", token)
}

