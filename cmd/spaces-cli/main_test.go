package main

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyGlobalFlags(t *testing.T) {
	original := rpcEndpoint
	t.Cleanup(func() { rpcEndpoint = original })

	rest, err := applyGlobalFlags([]string{"--rpc", "http://node:8545", "publish", "--name", "x"})
	require.NoError(t, err)
	require.Equal(t, "http://node:8545", rpcEndpoint)
	require.Equal(t, []string{"publish", "--name", "x"}, rest)

	rest, err = applyGlobalFlags([]string{"--rpc=http://other:1", "keygen"})
	require.NoError(t, err)
	require.Equal(t, "http://other:1", rpcEndpoint)
	require.Equal(t, []string{"keygen"}, rest)

	_, err = applyGlobalFlags([]string{"--rpc"})
	require.Error(t, err)
}

func TestCommandArgValidation(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no_command", nil, "Usage: spaces-cli"},
		{"unknown", []string{"mint"}, "Unknown command: mint"},
		{"register_no_key", []string{"register", "--username", "bob"}, "--key is required"},
		{"register_no_username", []string{"register", "--key", "w.json"}, "--username is required"},
		{"publish_no_name", []string{"publish", "--key", "w.json"}, "--name is required"},
		{"subscribe_no_days", []string{"subscribe", "--key", "w.json", "--space", "0x01"}, "--days must be positive"},
		{"announce_no_blob", []string{"announce", "--key", "w.json", "--space", "0x01", "--ownership", "0x02", "--name", "ep1"}, "--blob is required"},
		{"address_no_key", []string{"address"}, "--key is required"},
		{"fetch_no_committee", []string{"fetch-key", "--key", "w.json", "--space", "0x01", "--name", "ep1"}, "exactly one of --committee or --discover"},
		{"fetch_both_sources", []string{"fetch-key", "--key", "w.json", "--space", "0x01", "--name", "ep1", "--committee", "c.yaml", "--discover", "example.com"}, "exactly one of --committee or --discover"},
		{"fetch_owner_needs_capability", []string{"fetch-key", "--key", "w.json", "--space", "0x01", "--name", "ep1", "--committee", "c.yaml", "--owner"}, "--capability is required"},
		{"deposit_no_ownership", []string{"deposit-key", "--key", "w.json", "--space", "0x01", "--name", "ep1", "--committee", "c.yaml"}, "--ownership is required"},
		{"deposit_no_committee", []string{"deposit-key", "--key", "w.json", "--space", "0x01", "--ownership", "0x02", "--name", "ep1"}, "exactly one of --committee or --discover"},
		{"positional", []string{"renew", "--key", "w.json", "extra"}, "unexpected positional arguments"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			require.Equal(t, 1, run(tc.args, stdout, stderr))
			require.Empty(t, stdout.String())
			require.Contains(t, stderr.String(), tc.wantErr)
		})
	}
}

func TestParseFetchFlags(t *testing.T) {
	opts, ok := parseFetchFlags([]string{"--key", "w.json", "--space", "0x01", "--name", "ep1", "--discover", "spaces.example"}, &bytes.Buffer{})
	require.True(t, ok)
	require.Equal(t, "spaces.example", opts.discover)
	require.Equal(t, "1.1.1.1:53", opts.dnsServer)
	require.False(t, opts.owner)
}

func TestParseContentKey(t *testing.T) {
	drawn, err := parseContentKey("")
	require.NoError(t, err)
	require.Len(t, drawn, 32)

	given, err := parseContentKey("0x" + hex.EncodeToString(drawn))
	require.NoError(t, err)
	require.Equal(t, drawn, given)

	_, err = parseContentKey("abcd")
	require.Error(t, err)
	_, err = parseContentKey("zz")
	require.Error(t, err)
	_, err = parseContentKey(hex.EncodeToString(bytes.Repeat([]byte{0xff}, 32)))
	require.Error(t, err)
}
