package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Mints a session token for local testing. The secret must match the
// server's SESSION_TOKEN_SECRET.
func main() {
	if len(os.Args) < 6 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/mint-token.go <secret> <sessionId> <participantId> <role> <rateUnitsPerHour> [accountId]\n")
		os.Exit(1)
	}

	secret := os.Args[1]
	sessionID := os.Args[2]
	participantID := os.Args[3]
	role := os.Args[4]

	rate, err := strconv.ParseInt(os.Args[5], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid rate: %v\n", err)
		os.Exit(1)
	}

	accountID := participantID
	if len(os.Args) > 6 {
		accountID = os.Args[6]
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"pid":  participantID,
		"acc":  accountID,
		"sid":  sessionID,
		"role": role,
		"rate": rate,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(4 * time.Hour).Unix(),
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(signed)
}
