package blob

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Key builds the object key of an artifact:
// <kind>/<registrable-domain>/<unix-millis>-<8 hex>.<ext>
func Key(kind, rawURL, ext string, now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate key suffix: %w", err)
	}

	return fmt.Sprintf("%s/%s/%d-%s.%s",
		kind,
		RegistrableDomain(rawURL),
		now.UnixMilli(),
		hex.EncodeToString(suffix),
		strings.TrimPrefix(ext, "."),
	), nil
}

// RegistrableDomain returns the eTLD+1 of the URL host, falling back to the
// bare host for IPs, localhost and unknown suffixes.
func RegistrableDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}

	host := strings.ToLower(u.Hostname())
	if net.ParseIP(host) != nil {
		return strings.ReplaceAll(host, ":", "_")
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		registrable = host
	}

	return strings.NewReplacer(":", "_", "/", "_").Replace(registrable)
}
