package spam

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mkovacs/mailroom/internal/models"
)

// dnsblCacheTTL bounds how long a lookup verdict is reused. Listings change
// slowly, so an hour keeps resolver traffic negligible during a large sync.
const dnsblCacheTTL = time.Hour

// Resolver is the DNS surface the checker needs, satisfied by *net.Resolver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type dnsblVerdict struct {
	listed  bool
	expires time.Time
}

// DNSBLChecker queries DNS-based blocklists: the sender domain against a
// domain blocklist zone and body link hostnames against a URI blocklist
// zone. A name that resolves inside the zone is listed; an authoritative
// NXDOMAIN is a confident negative. Any other resolver error is treated as
// not listed and left uncached, so transient DNS trouble never marks mail
// as spam.
type DNSBLChecker struct {
	resolver   Resolver
	domainZone string
	uriZone    string
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]dnsblVerdict
}

// NewDNSBLChecker builds a checker for the given zones. A nil resolver uses
// the system resolver.
func NewDNSBLChecker(resolver Resolver, domainZone, uriZone string, logger *slog.Logger) *DNSBLChecker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DNSBLChecker{
		resolver:   resolver,
		domainZone: domainZone,
		uriZone:    uriZone,
		logger:     logger,
		now:        time.Now,
		cache:      make(map[string]dnsblVerdict),
	}
}

// CheckMessage reports whether the message's sender domain or any hostname
// linked from its body appears on a blocklist.
func (c *DNSBLChecker) CheckMessage(ctx context.Context, msg *models.Message) bool {
	if domain := senderDomain(msg); domain != "" && c.listed(ctx, domain, c.domainZone) {
		return true
	}
	for _, host := range bodyLinkHosts(msg) {
		if c.listed(ctx, host, c.uriZone) {
			return true
		}
	}
	return false
}

func (c *DNSBLChecker) listed(ctx context.Context, host, zone string) bool {
	if host == "" || zone == "" {
		return false
	}
	// URI blocklists key on registered names; IP literals would need octet
	// reversal and are skipped.
	if net.ParseIP(host) != nil {
		return false
	}

	query := host + "." + zone
	now := c.now()

	c.mu.Lock()
	if verdict, ok := c.cache[query]; ok && now.Before(verdict.expires) {
		c.mu.Unlock()
		return verdict.listed
	}
	c.mu.Unlock()

	_, err := c.resolver.LookupHost(ctx, query)
	switch {
	case err == nil:
		c.store(query, true, now)
		return true
	case isNotFound(err):
		c.store(query, false, now)
		return false
	default:
		c.logger.Debug("blocklist lookup failed, treating as not listed", "query", query, "error", err)
		return false
	}
}

func (c *DNSBLChecker) store(query string, listed bool, now time.Time) {
	c.mu.Lock()
	c.cache[query] = dnsblVerdict{listed: listed, expires: now.Add(dnsblCacheTTL)}
	c.mu.Unlock()
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

// bodyLinkHosts collects the distinct hostnames linked from a message body:
// anchors in the HTML part and bare http(s) URLs in the text parts.
func bodyLinkHosts(msg *models.Message) []string {
	seen := make(map[string]struct{})
	var hosts []string
	add := func(raw string) {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return
		}
		host := strings.ToLower(u.Hostname())
		if host == "" {
			return
		}
		if _, ok := seen[host]; ok {
			return
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}

	if msg.HTMLBody != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(msg.HTMLBody)); err == nil {
			doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
				if href, ok := sel.Attr("href"); ok {
					add(href)
				}
			})
		}
	}

	for _, text := range []string{msg.TextBody, msg.Body} {
		for _, token := range strings.Fields(text) {
			lower := strings.ToLower(token)
			if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
				add(strings.Trim(token, ".,;:!?)('\"<>"))
			}
		}
	}

	return hosts
}
