package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultRPC    = "http://127.0.0.1:8545"
	rpcURLEnv     = "SPACEGATE_RPC_URL"
	rpcTokenEnv   = "SPACEGATE_RPC_TOKEN"
	walletPassEnv = "SPACEGATE_WALLET_PASSPHRASE"
)

var rpcEndpoint = defaultRPCEndpoint()

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return defaultRPC
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "register":
		return runRegister(args[1:], stdout, stderr)
	case "publish":
		return runPublish(args[1:], stdout, stderr)
	case "subscribe":
		return runSubscribe(args[1:], stdout, stderr)
	case "renew":
		return runRenew(args[1:], stdout, stderr)
	case "announce":
		return runAnnounce(args[1:], stdout, stderr)
	case "fetch-key":
		return runFetchKey(args[1:], stdout, stderr)
	case "deposit-key":
		return runDepositKey(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

// applyGlobalFlags strips --rpc from the front of args.
func applyGlobalFlags(args []string) ([]string, error) {
	for len(args) > 0 {
		arg := args[0]
		switch {
		case arg == "--rpc" || arg == "-rpc":
			if len(args) < 2 {
				return nil, errors.New("Error: --rpc requires a value")
			}
			rpcEndpoint = args[1]
			args = args[2:]
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			args = args[1:]
		default:
			return args, nil
		}
	}
	return args, nil
}

func usage() string {
	return `Usage: spaces-cli [--rpc URL] <command> [flags]

Commands:
  keygen     --out FILE                        create an encrypted wallet keystore
  address    --key FILE                        print the wallet principal
  register   --key FILE --username NAME        register the wallet's identity
  publish    --key FILE --name NAME --price N  pay the init fee and publish a space
  subscribe  --key FILE --space ID --days N    buy a subscription
  renew      --key FILE --space ID --days N    extend a subscription
  announce   --key FILE --space ID --ownership ID --name NAME --blob REF
                                               announce content under a space
  deposit-key --key FILE --space ID --ownership ID --name NAME (--committee FILE | --discover DOMAIN)
                                               deal a content key across the committee
  fetch-key  --key FILE --space ID --name NAME (--committee FILE | --discover DOMAIN)
                                               ask the committee for a content key`
}

func writeJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
