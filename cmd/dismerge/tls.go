package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// loadTLSConfig builds a *tls.Config from a cert/key pair and an
// optional trusted CA bundle, the same LoadX509KeyPair/x509.NewCertPool
// shape the teacher's API server builds (pkg/api/server.go), minus the
// PKI-directory convention that has no referent here: dismerge takes
// file paths straight from flags rather than deriving them from a node
// id. Returns nil, nil when no cert_file is configured (TLS disabled).
func loadTLSConfig(files tlsFiles) (*tls.Config, error) {
	if files.certFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(files.certFile, files.keyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	if files.caFile != "" {
		caBytes, err := os.ReadFile(files.caFile)
		if err != nil {
			return nil, fmt.Errorf("read trusted CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("no certificates parsed from %s", files.caFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequestClientCert
	}
	return cfg, nil
}
