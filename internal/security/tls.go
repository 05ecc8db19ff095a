package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ClientAuth says what ledgerd asks of client certificates.
type ClientAuth string

const (
	ClientAuthNone     ClientAuth = "none"
	ClientAuthOptional ClientAuth = "optional" // verified against the CA when presented
	ClientAuthRequire  ClientAuth = "require"
)

// ParseClientAuth accepts none, optional and require. Empty means optional.
func ParseClientAuth(s string) (ClientAuth, error) {
	switch m := ClientAuth(s); m {
	case "":
		return ClientAuthOptional, nil
	case ClientAuthNone, ClientAuthOptional, ClientAuthRequire:
		return m, nil
	default:
		return "", fmt.Errorf("unknown client auth mode %q", s)
	}
}

// TLSConfig names the PEM files of the server identity and of the CA that signs client
// certificates.
type TLSConfig struct {
	CertFile   string
	KeyFile    string
	CAFile     string
	ClientAuth ClientAuth
}

// Enabled reports whether a certificate pair is configured.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// LoadServerTLSConfig builds a TLS 1.3 server config shared by the HTTP API and the gRPC health
// service. Client certificates are only checked when a CA file is given.
func LoadServerTLSConfig(c TLSConfig) (*tls.Config, error) {
	mode, err := ParseClientAuth(string(c.ClientAuth))
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server key pair: %w", err)
	}
	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		ClientAuth:   tls.NoClientCert,
	}

	if c.CAFile == "" || mode == ClientAuthNone {
		if mode == ClientAuthRequire {
			return nil, errors.New("requiring client certificates needs a CA file")
		}
		return out, nil
	}
	out.ClientCAs, err = loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}
	out.ClientAuth = tls.VerifyClientCertIfGiven
	if mode == ClientAuthRequire {
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return out, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("client CA %s holds no PEM certificates", path)
	}
	return pool, nil
}
