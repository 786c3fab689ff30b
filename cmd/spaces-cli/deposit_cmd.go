package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"spacegate/core/types"
	"spacegate/sdk/access"
)

type depositOptions struct {
	keyFile    string
	space      string
	ownership  string
	name       string
	contentKey string
	committee  string
	discover   string
	dnsServer  string
}

func parseDepositFlags(args []string, stderr io.Writer) (*depositOptions, bool) {
	fs := flag.NewFlagSet("deposit-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := &depositOptions{}
	fs.StringVar(&opts.keyFile, "key", "", "owner wallet keystore")
	fs.StringVar(&opts.space, "space", "", "space object id")
	fs.StringVar(&opts.ownership, "ownership", "", "ownership object id")
	fs.StringVar(&opts.name, "name", "", "resource name within the space")
	fs.StringVar(&opts.contentKey, "content-key", "", "hex content key to deal (a fresh one is drawn when omitted)")
	fs.StringVar(&opts.committee, "committee", "", "committee YAML file")
	fs.StringVar(&opts.discover, "discover", "", "domain publishing the committee as DNS TXT records")
	fs.StringVar(&opts.dnsServer, "dns", "1.1.1.1:53", "resolver used with --discover")
	if err := fs.Parse(args); err != nil {
		return nil, false
	}
	switch {
	case fs.NArg() > 0:
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
	case strings.TrimSpace(opts.keyFile) == "":
		fmt.Fprintln(stderr, "Error: --key is required")
	case strings.TrimSpace(opts.space) == "":
		fmt.Fprintln(stderr, "Error: --space is required")
	case strings.TrimSpace(opts.ownership) == "":
		fmt.Fprintln(stderr, "Error: --ownership is required")
	case strings.TrimSpace(opts.name) == "":
		fmt.Fprintln(stderr, "Error: --name is required")
	case (opts.committee == "") == (opts.discover == ""):
		fmt.Fprintln(stderr, "Error: exactly one of --committee or --discover is required")
	default:
		return opts, true
	}
	return nil, false
}

// runDepositKey deals a content key across the committee and prints it. Each
// holder receives only its own share.
func runDepositKey(args []string, stdout, stderr io.Writer) int {
	opts, ok := parseDepositFlags(args, stderr)
	if !ok {
		return 1
	}
	spaceID, err := types.ParseObjectID(opts.space)
	if err != nil {
		return fail(stderr, err)
	}
	ownershipID, err := types.ParseObjectID(opts.ownership)
	if err != nil {
		return fail(stderr, err)
	}
	contentKey, err := parseContentKey(opts.contentKey)
	if err != nil {
		return fail(stderr, err)
	}
	key, err := loadWallet(opts.keyFile)
	if err != nil {
		return fail(stderr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	committee, err := resolveCommittee(ctx, opts.committee, opts.discover, opts.dnsServer)
	if err != nil {
		return fail(stderr, err)
	}
	client, err := access.NewClient(committee)
	if err != nil {
		return fail(stderr, err)
	}
	err = client.DepositKey(ctx, access.NewKeyWallet(key), types.GateCall{
		ResourceID:   access.ResourceID(spaceID, opts.name),
		SpaceID:      spaceID,
		CapabilityID: ownershipID,
	}, contentKey)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, hex.EncodeToString(contentKey))
	return 0
}

func parseContentKey(raw string) ([]byte, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return access.NewContentKey()
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("content key: %w", err)
	}
	if !access.ValidShare(key) {
		return nil, errors.New("content key must be a canonical 32-byte scalar")
	}
	return key, nil
}
