package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSFiles names the PEM files of a member's identity.
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// ServerTLS returns a configuration that requires client certificates signed
// by the federation CA.
func ServerTLS(files TLSFiles) (*tls.Config, error) {
	cert, pool, err := loadIdentity(files)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientTLS returns a configuration presenting the member certificate and
// trusting the federation CA.
func ClientTLS(files TLSFiles) (*tls.Config, error) {
	cert, pool, err := loadIdentity(files)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func loadIdentity(files TLSFiles) (tls.Certificate, *x509.CertPool, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to load member certificate: %w", err)
	}
	caPEM, err := os.ReadFile(files.CAFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return tls.Certificate{}, nil, fmt.Errorf("no certificates in CA file %s", files.CAFile)
	}
	return cert, pool, nil
}
