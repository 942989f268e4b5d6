package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/grandcat/zeroconf"

	"github.com/nerrad567/timerly-core/internal/device"
)

// mDNS browse defaults.
const (
	DefaultMDNSDomain = "local."
	DefaultMDNSWindow = 5 * time.Minute

	mdnsInitialBackoff = 2 * time.Second
	mdnsMaxBackoff     = time.Minute
)

// Browser is the part of *zeroconf.Resolver the source uses.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// BrowserFactory returns a fresh Browser for each browse window.
type BrowserFactory func() (Browser, error)

func zeroconfBrowser() (Browser, error) {
	return zeroconf.NewResolver()
}

// MDNSOptions configures an MDNSSource.
type MDNSOptions struct {
	Service string
	Domain  string
	// Window is how long one browse runs before it is restarted so that
	// re-announcements are seen again.
	Window     time.Duration
	NewBrowser BrowserFactory
	Logger     Logger
}

// MDNSSource browses for displays over mDNS. Zeroconf reports sightings
// only, so the source never emits Removed.
type MDNSSource struct {
	service    string
	domain     string
	window     time.Duration
	newBrowser BrowserFactory
	logger     Logger
}

// NewMDNSSource creates an mDNS source with defaults for unset options.
func NewMDNSSource(opts MDNSOptions) *MDNSSource {
	if opts.Service == "" {
		opts.Service = device.ServiceType
	}
	if opts.Domain == "" {
		opts.Domain = DefaultMDNSDomain
	}
	if opts.Window <= 0 {
		opts.Window = DefaultMDNSWindow
	}
	if opts.NewBrowser == nil {
		opts.NewBrowser = zeroconfBrowser
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &MDNSSource{
		service:    opts.Service,
		domain:     opts.Domain,
		window:     opts.Window,
		newBrowser: opts.NewBrowser,
		logger:     opts.Logger,
	}
}

// Name implements Source.
func (s *MDNSSource) Name() string { return "mdns" }

// Run browses window after window until ctx is done. Failed browses are
// retried with exponential backoff.
func (s *MDNSSource) Run(ctx context.Context, emit func(Event)) error {
	operation := func() (struct{}, error) {
		err := s.browse(ctx, emit)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if err != nil {
			s.logger.Warn("mdns browse failed", "service", s.service, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	for ctx.Err() == nil {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = mdnsInitialBackoff
		bo.MaxInterval = mdnsMaxBackoff

		if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo)); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			s.logger.Error("mdns browse giving up for now", "error", err)
		}
	}
	return nil
}

// browse runs one window.
func (s *MDNSSource) browse(ctx context.Context, emit func(Event)) error {
	browser, err := s.newBrowser()
	if err != nil {
		return fmt.Errorf("creating resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, s.window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := browser.Browse(browseCtx, s.service, s.domain, entries); err != nil {
		return fmt.Errorf("browsing %s: %w", s.service, err)
	}
	s.logger.Debug("mdns browse started", "service", s.service, "domain", s.domain)

	for {
		select {
		case <-browseCtx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			if ev, ok := eventFromEntry(entry, s.Name()); ok {
				emit(ev)
			}
		}
	}
}

// eventFromEntry converts a resolved service entry, preferring IPv4.
func eventFromEntry(entry *zeroconf.ServiceEntry, source string) (Event, bool) {
	if entry == nil || entry.Instance == "" || entry.Port == 0 {
		return Event{}, false
	}

	var address string
	switch {
	case len(entry.AddrIPv4) > 0:
		address = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		address = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		address = entry.HostName
	default:
		return Event{}, false
	}
	return Added(unescapeInstance(entry.Instance), address, entry.Port, source), true
}

// unescapeInstance decodes the presentation form of a DNS label as
// zeroconf reports it: \DDD is a decimal byte and \X is X.
func unescapeInstance(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		if v, ok := decimalEscape(s[i+1:]); ok {
			b.WriteByte(v)
			i += 3
			continue
		}
		b.WriteByte(s[i+1])
		i++
	}
	return b.String()
}

// decimalEscape parses the three digits following a backslash.
func decimalEscape(s string) (byte, bool) {
	if len(s) < 3 {
		return 0, false
	}
	v := 0
	for _, c := range []byte(s[:3]) {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int(c-'0')
	}
	if v > 255 {
		return 0, false
	}
	return byte(v), true
}
