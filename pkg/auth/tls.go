// Package auth builds transport credentials for the selection service and
// identifies the peers that call it.
package auth

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
)

var (
	ErrInvalidCA          = errors.New("invalid CA certificate")
	ErrMissingCertificate = errors.New("certificate and key are required")
	ErrInvalidTLSVersion  = errors.New("unsupported TLS version")
)

// TLSOptions names the PEM files used on either side of a connection
type TLSOptions struct {
	CertFile string
	KeyFile  string
	CAFile   string

	// RequireClientCert makes the server verify client certificates
	// against CAFile
	RequireClientCert bool

	// MinVersion is "1.2" or "1.3"; empty means 1.2
	MinVersion string

	// ServerName overrides the name checked against the server certificate
	ServerName string
}

// Enabled reports whether any certificate material is configured
func (o TLSOptions) Enabled() bool {
	return o.CertFile != "" || o.KeyFile != "" || o.CAFile != ""
}

// ServerConfig builds the server side TLS configuration
func ServerConfig(o TLSOptions) (*tls.Config, error) {
	if o.CertFile == "" || o.KeyFile == "" {
		return nil, ErrMissingCertificate
	}
	version, err := tlsVersion(o.MinVersion)
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   version,
		ClientAuth:   tls.NoClientCert,
	}
	if o.CAFile != "" {
		pool, err := loadCAPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	if o.RequireClientCert {
		if cfg.ClientCAs == nil {
			return nil, fmt.Errorf("%w: client certificates require a CA file", ErrInvalidCA)
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientConfig builds the client side TLS configuration. Without a CA file
// the system roots are used.
func ClientConfig(o TLSOptions) (*tls.Config, error) {
	version, err := tlsVersion(o.MinVersion)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion: version,
		ServerName: o.ServerName,
	}
	if o.CAFile != "" {
		pool, err := loadCAPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if o.CertFile != "" || o.KeyFile != "" {
		if o.CertFile == "" || o.KeyFile == "" {
			return nil, ErrMissingCertificate
		}
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// ServerCredentials wraps ServerConfig for grpc.Creds
func ServerCredentials(o TLSOptions) (credentials.TransportCredentials, error) {
	cfg, err := ServerConfig(o)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(cfg), nil
}

// ClientCredentials wraps ClientConfig for grpc.WithTransportCredentials
func ClientCredentials(o TLSOptions) (credentials.TransportCredentials, error) {
	cfg, err := ClientConfig(o)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(cfg), nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidCA, path)
	}
	return pool, nil
}

func tlsVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTLSVersion, v)
	}
}
