package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/efremov-platform/llm-edge-gateway/internal/auth"
)

// keygen prints a fresh API key and its SHA-256 hash, or hashes a key
// passed as an argument, for seeding the api_keys table by hand.
func main() {
	var apiKey string
	if len(os.Args) > 1 {
		apiKey = os.Args[1]
	} else {
		apiKey = "llm_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	fmt.Printf("API Key:     %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", auth.HashAPIKey(apiKey))
	fmt.Println("\nInsert the hash into the api_keys table:")
	fmt.Printf("  INSERT INTO api_keys (id, user_id, name, key_hash) VALUES (?, ?, 'manual', '%s');\n", auth.HashAPIKey(apiKey))
}
