package main

import (
	"crypto/tls"

	"github.com/example/bank-ledger/internal/config"
	"github.com/example/bank-ledger/internal/security"
)

// serverTLS returns nil when no certificate is configured.
func serverTLS(s config.ServerConfig) (*tls.Config, error) {
	tc := security.TLSConfig{
		CertFile:   s.TLSCertFile,
		KeyFile:    s.TLSKeyFile,
		CAFile:     s.TLSCAFile,
		ClientAuth: security.ClientAuth(s.TLSClientAuth),
	}
	if !tc.Enabled() {
		return nil, nil
	}
	return security.LoadServerTLSConfig(tc)
}
