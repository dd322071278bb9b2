package main

import (
	"encoding/base64"
	"flag"
	"fmt"

	"github.com/kabili207/mesh-chess/pkg/auth"
	"github.com/kabili207/mesh-chess/pkg/meshtastic/radio"
)

func main() {
	length := flag.Int("length", 16, "Length of the password in bytes (will be hex encoded, so output is 2x this)")
	password := flag.String("password", "", "Hash this password instead of generating one")
	keypair := flag.Bool("keypair", false, "Also generate an X25519 key pair for PKI direct messages")
	flag.Parse()

	pass := *password
	if pass == "" {
		var err error
		pass, err = auth.RandomHex(*length)
		if err != nil {
			fmt.Printf("Error generating password: %v\n", err)
			return
		}
	}

	hash, salt, err := auth.GenerateHashAndSalt(pass)
	if err != nil {
		fmt.Printf("Error hashing password: %v\n", err)
		return
	}

	fmt.Printf("Password: %s\n", pass)
	fmt.Printf("Salt:     %s\n", salt)
	fmt.Printf("Hash:     %s\n", hash)

	if *keypair {
		pub, priv, err := radio.GenerateKeyPair()
		if err != nil {
			fmt.Printf("Error generating key pair: %v\n", err)
			return
		}
		fmt.Printf("Private:  %s\n", base64.StdEncoding.EncodeToString(priv))
		fmt.Printf("Public:   %s\n", base64.StdEncoding.EncodeToString(pub))
	}
}
