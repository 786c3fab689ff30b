package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"spacegate/cmd/internal/passphrase"
	"spacegate/crypto"
)

var walletPassphrase = passphrase.NewSource(walletPassEnv, "wallet")

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "wallet.keystore", "keystore file to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path := strings.TrimSpace(*out)
	if _, err := os.Stat(path); err == nil {
		return fail(stderr, fmt.Errorf("%s already exists", path))
	} else if !errors.Is(err, os.ErrNotExist) {
		return fail(stderr, err)
	}
	pass, err := walletPassphrase.Get()
	if err != nil {
		return fail(stderr, err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fail(stderr, err)
	}
	if err := crypto.SaveToKeystore(path, key, pass); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", "", "wallet keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*keyFile) == "" {
		fmt.Fprintln(stderr, "Error: --key is required")
		return 1
	}
	addr, err := crypto.KeystoreAddress(*keyFile)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, addr.String())
	return 0
}

func loadWallet(path string) (*crypto.PrivateKey, error) {
	pass, err := walletPassphrase.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock %s: %w", path, err)
	}
	return key, nil
}
