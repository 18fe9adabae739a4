package sync

import (
	"fmt"
	"net/url"
)

// peerDialAddr extracts a dialable host:port from the first of a peer's
// PeerURLs, stripping the scheme transport.go's peerAddr leaves intact
// (that one builds an HTTP URL; a net.Dialer wants bare host:port), the
// same stripping cmd/dismerge's listener setup already does.
func peerDialAddr(peerURLs []string) (string, error) {
	if len(peerURLs) == 0 {
		return "", fmt.Errorf("peer has no advertised peer URLs")
	}
	parsed, err := url.Parse(peerURLs[0])
	if err != nil {
		return "", fmt.Errorf("parse peer url %q: %w", peerURLs[0], err)
	}
	if parsed.Host == "" {
		return peerURLs[0], nil
	}
	return parsed.Host, nil
}
