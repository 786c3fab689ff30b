package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"spacegate/config"
	"spacegate/core/types"
	"spacegate/native/creator"
	"spacegate/sdk/access"
)

const fetchTimeout = 20 * time.Second

type fetchOptions struct {
	keyFile    string
	space      string
	name       string
	capability string
	owner      bool
	committee  string
	discover   string
	dnsServer  string
}

func parseFetchFlags(args []string, stderr io.Writer) (*fetchOptions, bool) {
	fs := flag.NewFlagSet("fetch-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := &fetchOptions{}
	fs.StringVar(&opts.keyFile, "key", "", "wallet keystore")
	fs.StringVar(&opts.space, "space", "", "space object id")
	fs.StringVar(&opts.name, "name", "", "resource name within the space")
	fs.StringVar(&opts.capability, "capability", "", "ownership or subscription id (subscriptions are looked up when omitted)")
	fs.BoolVar(&opts.owner, "owner", false, "use the owner path instead of the subscriber path")
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
	case strings.TrimSpace(opts.name) == "":
		fmt.Fprintln(stderr, "Error: --name is required")
	case (opts.committee == "") == (opts.discover == ""):
		fmt.Fprintln(stderr, "Error: exactly one of --committee or --discover is required")
	case opts.owner && opts.capability == "":
		fmt.Fprintln(stderr, "Error: --capability is required with --owner")
	default:
		return opts, true
	}
	return nil, false
}

func runFetchKey(args []string, stdout, stderr io.Writer) int {
	opts, ok := parseFetchFlags(args, stderr)
	if !ok {
		return 1
	}
	spaceID, err := types.ParseObjectID(opts.space)
	if err != nil {
		return fail(stderr, err)
	}
	key, err := loadWallet(opts.keyFile)
	if err != nil {
		return fail(stderr, err)
	}
	wallet := access.NewKeyWallet(key)

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	committee, err := resolveCommittee(ctx, opts.committee, opts.discover, opts.dnsServer)
	if err != nil {
		return fail(stderr, err)
	}

	path := creator.GateSubscriberPath
	if opts.owner {
		path = creator.GateOwnerPath
	}
	var capability types.ObjectID
	if opts.capability != "" {
		capability, err = types.ParseObjectID(opts.capability)
	} else {
		capability, err = lookupSubscription(ctx, spaceID, wallet.Address())
	}
	if err != nil {
		return fail(stderr, err)
	}

	client, err := access.NewClient(committee)
	if err != nil {
		return fail(stderr, err)
	}
	contentKey, err := client.FetchKey(ctx, wallet, path, types.GateCall{
		ResourceID:   access.ResourceID(spaceID, opts.name),
		SpaceID:      spaceID,
		CapabilityID: capability,
	})
	if errors.Is(err, access.ErrDenied) {
		fmt.Fprintln(stderr, "Error: access denied")
		return 2
	}
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, hex.EncodeToString(contentKey))
	return 0
}

// resolveCommittee loads the committee from file, or from DNS when file is
// empty.
func resolveCommittee(ctx context.Context, file, domain, dnsServer string) (*config.Committee, error) {
	if file != "" {
		return config.LoadCommittee(file)
	}
	return access.DiscoverCommittee(ctx, dnsServer, domain)
}

func lookupSubscription(ctx context.Context, spaceID types.ObjectID, subscriber types.Principal) (types.ObjectID, error) {
	state, err := headState(ctx, newRPCClient())
	if err != nil {
		return types.ObjectID{}, err
	}
	sub, err := creator.LookupSubscription(state, spaceID, subscriber)
	if err != nil {
		return types.ObjectID{}, fmt.Errorf("find subscription: %w", err)
	}
	return sub.ID, nil
}
