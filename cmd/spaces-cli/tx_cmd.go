package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"spacegate/core/types"
	"spacegate/crypto"
	"spacegate/native/creator"
	"spacegate/rpc"
	"spacegate/sdk/access"
)

const txTimeout = 30 * time.Second

// newRPCClient is swapped out by tests.
var newRPCClient = func() *rpc.Client {
	return rpc.NewClient(rpcEndpoint, os.Getenv(rpcTokenEnv))
}

// submit signs payload with the wallet's next nonce and sends it.
func submit(ctx context.Context, client *rpc.Client, key *crypto.PrivateKey, txType types.TxType, value uint64, payload interface{}) (*rpc.ReceiptResult, error) {
	info, err := client.ChainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain info: %w", err)
	}
	sender := access.NewKeyWallet(key).Address()
	account, err := client.Account(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", sender, err)
	}
	tx, err := types.NewTransaction(info.ChainID, txType, account.Nonce, value, payload)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return nil, err
	}
	return client.SendTransaction(ctx, tx)
}

// headState returns a reader pinned to the node's current head.
func headState(ctx context.Context, client *rpc.Client) (*rpc.RemoteState, error) {
	head, err := client.Head(ctx)
	if err != nil {
		return nil, err
	}
	return client.StateAt(ctx, head.Root), nil
}

type txFlags struct {
	fs      *flag.FlagSet
	keyFile string
}

func newTxFlags(name string, stderr io.Writer) *txFlags {
	f := &txFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.fs.SetOutput(stderr)
	f.fs.StringVar(&f.keyFile, "key", "", "wallet keystore")
	return f
}

type requiredFlag struct {
	name  string
	value *string
}

func (f *txFlags) parse(args []string, stderr io.Writer, required ...requiredFlag) bool {
	if err := f.fs.Parse(args); err != nil {
		return false
	}
	if f.fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	if strings.TrimSpace(f.keyFile) == "" {
		fmt.Fprintln(stderr, "Error: --key is required")
		return false
	}
	for _, r := range required {
		if strings.TrimSpace(*r.value) == "" {
			fmt.Fprintf(stderr, "Error: --%s is required\n", r.name)
			return false
		}
	}
	return true
}

func runRegister(args []string, stdout, stderr io.Writer) int {
	f := newTxFlags("register", stderr)
	username := f.fs.String("username", "", "identity username")
	bio := f.fs.String("bio", "", "short biography")
	avatar := f.fs.String("avatar", "", "avatar blob reference")
	image := f.fs.String("image", "", "profile image blob reference")
	if !f.parse(args, stderr, requiredFlag{"username", username}) {
		return 1
	}
	return f.send(stdout, stderr, types.TxTypeRegisterIdentity, func(context.Context, *rpc.Client, types.Principal) (uint64, interface{}, error) {
		return 0, types.RegisterIdentityPayload{
			Username:  strings.TrimSpace(*username),
			Bio:       *bio,
			AvatarRef: types.BlobRef(*avatar),
			ImageRef:  types.BlobRef(*image),
		}, nil
	})
}

func runPublish(args []string, stdout, stderr io.Writer) int {
	f := newTxFlags("publish", stderr)
	name := f.fs.String("name", "", "space name")
	description := f.fs.String("description", "", "space description")
	cover := f.fs.String("cover", "", "cover blob reference")
	price := f.fs.Uint64("price", 0, "subscription price per day")
	if !f.parse(args, stderr, requiredFlag{"name", name}) {
		return 1
	}
	return f.send(stdout, stderr, types.TxTypeInitializeSpace, func(ctx context.Context, client *rpc.Client, _ types.Principal) (uint64, interface{}, error) {
		info, err := client.ChainInfo(ctx)
		if err != nil {
			return 0, nil, err
		}
		return info.InitFee, types.InitializeSpacePayload{
			Name:        strings.TrimSpace(*name),
			Description: *description,
			CoverRef:    types.BlobRef(*cover),
			PricePerDay: *price,
		}, nil
	})
}

func runSubscribe(args []string, stdout, stderr io.Writer) int {
	f := newTxFlags("subscribe", stderr)
	space := f.fs.String("space", "", "space object id")
	days := f.fs.Uint64("days", 0, "subscription length in days")
	if !f.parse(args, stderr, requiredFlag{"space", space}) {
		return 1
	}
	if *days == 0 {
		fmt.Fprintln(stderr, "Error: --days must be positive")
		return 1
	}
	spaceID, err := types.ParseObjectID(*space)
	if err != nil {
		return fail(stderr, err)
	}
	return f.send(stdout, stderr, types.TxTypeSubscribe, func(ctx context.Context, client *rpc.Client, sender types.Principal) (uint64, interface{}, error) {
		state, err := headState(ctx, client)
		if err != nil {
			return 0, nil, err
		}
		identityID, ok, err := state.IdentityIndexGet(sender)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, errors.New("wallet has no registered identity")
		}
		price, err := spacePrice(state, spaceID)
		if err != nil {
			return 0, nil, err
		}
		return price * *days, types.SubscribePayload{SpaceID: spaceID, IdentityID: identityID, DurationDays: *days}, nil
	})
}

func runRenew(args []string, stdout, stderr io.Writer) int {
	f := newTxFlags("renew", stderr)
	space := f.fs.String("space", "", "space object id")
	days := f.fs.Uint64("days", 0, "days to add")
	if !f.parse(args, stderr, requiredFlag{"space", space}) {
		return 1
	}
	if *days == 0 {
		fmt.Fprintln(stderr, "Error: --days must be positive")
		return 1
	}
	spaceID, err := types.ParseObjectID(*space)
	if err != nil {
		return fail(stderr, err)
	}
	return f.send(stdout, stderr, types.TxTypeRenewSubscription, func(ctx context.Context, client *rpc.Client, sender types.Principal) (uint64, interface{}, error) {
		state, err := headState(ctx, client)
		if err != nil {
			return 0, nil, err
		}
		sub, err := creator.LookupSubscription(state, spaceID, sender)
		if err != nil {
			return 0, nil, err
		}
		price, err := spacePrice(state, spaceID)
		if err != nil {
			return 0, nil, err
		}
		return price * *days, types.RenewSubscriptionPayload{SubscriptionID: sub.ID, SpaceID: spaceID, AdditionalDays: *days}, nil
	})
}

func runAnnounce(args []string, stdout, stderr io.Writer) int {
	f := newTxFlags("announce", stderr)
	space := f.fs.String("space", "", "space object id")
	ownership := f.fs.String("ownership", "", "ownership capability id")
	name := f.fs.String("name", "", "resource name within the space")
	blob := f.fs.String("blob", "", "encrypted content blob reference")
	title := f.fs.String("title", "", "display title")
	media := f.fs.String("media-type", "video/mp4", "content media type")
	if !f.parse(args, stderr, requiredFlag{"space", space}, requiredFlag{"ownership", ownership}, requiredFlag{"name", name}, requiredFlag{"blob", blob}) {
		return 1
	}
	spaceID, err := types.ParseObjectID(*space)
	if err != nil {
		return fail(stderr, err)
	}
	ownershipID, err := types.ParseObjectID(*ownership)
	if err != nil {
		return fail(stderr, err)
	}
	return f.send(stdout, stderr, types.TxTypeRecordContent, func(context.Context, *rpc.Client, types.Principal) (uint64, interface{}, error) {
		return 0, types.RecordContentPayload{
			SpaceID:     spaceID,
			OwnershipID: ownershipID,
			BlobRef:     types.BlobRef(*blob),
			ResourceID:  access.ResourceID(spaceID, *name),
			Title:       *title,
			MediaType:   *media,
		}, nil
	})
}

func spacePrice(state creator.StateReader, spaceID types.ObjectID) (uint64, error) {
	space, ok, err := state.SpaceGet(spaceID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("space %s not found", spaceID)
	}
	return space.PricePerDay, nil
}

type buildFunc func(ctx context.Context, client *rpc.Client, sender types.Principal) (value uint64, payload interface{}, err error)

func (f *txFlags) send(stdout, stderr io.Writer, txType types.TxType, build buildFunc) int {
	key, err := loadWallet(f.keyFile)
	if err != nil {
		return fail(stderr, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), txTimeout)
	defer cancel()
	client := newRPCClient()
	value, payload, err := build(ctx, client, access.NewKeyWallet(key).Address())
	if err != nil {
		return fail(stderr, err)
	}
	receipt, err := submit(ctx, client, key, txType, value, payload)
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, receipt)
	return 0
}
