// Command hubsecret generates a shared secret for a new agent record,
// plus the bcrypt hash the control plane stores alongside the agent.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic(err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Secret (give to agent):  %s\n", secret)
	fmt.Printf("Hash (store in agents.secret_hash): %s\n", hash)
}
