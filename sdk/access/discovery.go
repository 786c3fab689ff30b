package access

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"spacegate/config"
)

// DiscoveryLabel is prepended to the domain when looking up a committee.
const DiscoveryLabel = "_keyholders"

// DiscoverCommittee reads a committee from TXT records under
// _keyholders.<domain>, queried at server (host:port). One record carries
// "threshold=N"; every other record describes a holder as
// "index=1 url=https://... address=spc1...".
func DiscoverCommittee(ctx context.Context, server, domain string) (*config.Committee, error) {
	name := dns.Fqdn(DiscoveryLabel + "." + strings.TrimSuffix(strings.TrimSpace(domain), "."))
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeTXT)
	client := &dns.Client{Net: "udp", Timeout: 3 * time.Second}
	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("access: lookup %s: %w", name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("access: lookup %s: %s", name, dns.RcodeToString[resp.Rcode])
	}

	committee := &config.Committee{}
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		if err := applyRecord(committee, strings.Join(txt.Txt, "")); err != nil {
			return nil, err
		}
	}
	if err := committee.Validate(); err != nil {
		return nil, err
	}
	return committee, nil
}

func applyRecord(committee *config.Committee, record string) error {
	fields := make(map[string]string)
	for _, token := range strings.Fields(record) {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			return fmt.Errorf("access: malformed committee record %q", record)
		}
		fields[strings.ToLower(key)] = value
	}
	if raw, ok := fields["threshold"]; ok {
		threshold, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("access: threshold %q: %w", raw, err)
		}
		committee.Threshold = threshold
		return nil
	}
	index, err := strconv.Atoi(fields["index"])
	if err != nil {
		return fmt.Errorf("access: holder index %q: %w", fields["index"], err)
	}
	committee.Holders = append(committee.Holders, config.Holder{
		Index:   index,
		Name:    fields["name"],
		URL:     fields["url"],
		Address: fields["address"],
	})
	return nil
}
