// genkey generates a random service API key for the execution server.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go
//
// Prints the key once to stdout. Put it in the server environment as
// ENSO_API_KEY and give the same value to clients; the server never
// stores the key in plaintext, so if it is lost, generate a new one.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

func main() {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}

	key := "enso_sk_" + base64.RawURLEncoding.EncodeToString(raw)
	fmt.Println(key)
	fmt.Fprintln(os.Stderr, "Set this as ENSO_API_KEY on the server and hand it to clients.")
}
