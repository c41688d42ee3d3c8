package spam

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mkovacs/mailroom/internal/models"
)

// fakeResolver maps full blocklist queries to canned outcomes and counts
// lookups to verify caching.
type fakeResolver struct {
	listed  map[string]bool
	err     error
	lookups map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{listed: make(map[string]bool), lookups: make(map[string]int)}
}

func (f *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	f.lookups[host]++
	if f.err != nil {
		return nil, f.err
	}
	if f.listed[host] {
		return []string{"127.0.0.2"}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func TestCheckMessageSenderDomainListed(t *testing.T) {
	resolver := newFakeResolver()
	resolver.listed["scam.example.dbl.test"] = true
	c := NewDNSBLChecker(resolver, "dbl.test", "uribl.test", nil)

	msg := &models.Message{From: []string{"mallory@scam.example"}}
	assert.True(t, c.CheckMessage(context.Background(), msg))

	clean := &models.Message{From: []string{"ada@example.com"}}
	assert.False(t, c.CheckMessage(context.Background(), clean))
}

func TestCheckMessageBodyLinkListed(t *testing.T) {
	resolver := newFakeResolver()
	resolver.listed["evil.example.uribl.test"] = true
	c := NewDNSBLChecker(resolver, "dbl.test", "uribl.test", nil)

	msg := &models.Message{
		From:     []string{"ada@example.com"},
		HTMLBody: `<p>See <a href="https://evil.example/win">this</a>.</p>`,
	}
	assert.True(t, c.CheckMessage(context.Background(), msg))
}

func TestCheckMessageTextURLListed(t *testing.T) {
	resolver := newFakeResolver()
	resolver.listed["evil.example.uribl.test"] = true
	c := NewDNSBLChecker(resolver, "dbl.test", "uribl.test", nil)

	msg := &models.Message{
		From:     []string{"ada@example.com"},
		TextBody: "Claim at https://evil.example/win now!",
	}
	assert.True(t, c.CheckMessage(context.Background(), msg))
}

func TestListedCachesPositiveAndNegative(t *testing.T) {
	resolver := newFakeResolver()
	resolver.listed["scam.example.dbl.test"] = true
	c := NewDNSBLChecker(resolver, "dbl.test", "uribl.test", nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.True(t, c.listed(ctx, "scam.example", "dbl.test"))
		assert.False(t, c.listed(ctx, "example.com", "dbl.test"))
	}

	assert.Equal(t, 1, resolver.lookups["scam.example.dbl.test"])
	assert.Equal(t, 1, resolver.lookups["example.com.dbl.test"])
}

func TestListedCacheExpires(t *testing.T) {
	resolver := newFakeResolver()
	c := NewDNSBLChecker(resolver, "dbl.test", "uribl.test", nil)

	current := time.Now()
	c.now = func() time.Time { return current }

	ctx := context.Background()
	c.listed(ctx, "example.com", "dbl.test")
	current = current.Add(dnsblCacheTTL + time.Minute)
	c.listed(ctx, "example.com", "dbl.test")

	assert.Equal(t, 2, resolver.lookups["example.com.dbl.test"])
}

func TestListedFailsOpenOnResolverError(t *testing.T) {
	resolver := newFakeResolver()
	resolver.err = errors.New("resolver unreachable")
	c := NewDNSBLChecker(resolver, "dbl.test", "uribl.test", nil)

	ctx := context.Background()
	assert.False(t, c.listed(ctx, "scam.example", "dbl.test"))

	// Transient errors are not cached, so recovery is immediate.
	resolver.err = nil
	resolver.listed["scam.example.dbl.test"] = true
	assert.True(t, c.listed(ctx, "scam.example", "dbl.test"))
}

func TestListedSkipsIPLiterals(t *testing.T) {
	resolver := newFakeResolver()
	c := NewDNSBLChecker(resolver, "dbl.test", "uribl.test", nil)

	assert.False(t, c.listed(context.Background(), "192.0.2.1", "uribl.test"))
	assert.Empty(t, resolver.lookups)
}

func TestBodyLinkHostsDeduplicates(t *testing.T) {
	msg := &models.Message{
		HTMLBody: `<a href="https://a.example/x">x</a> <a href="https://a.example/y">y</a> <a href="http://b.example/">b</a>`,
		TextBody: "Visit https://a.example/z and https://c.example/.",
	}

	assert.ElementsMatch(t, []string{"a.example", "b.example", "c.example"}, bodyLinkHosts(msg))
}

func TestBodyLinkHostsIgnoresRelativeLinks(t *testing.T) {
	msg := &models.Message{HTMLBody: `<a href="/local/path">here</a>`}
	assert.Empty(t, bodyLinkHosts(msg))
}
