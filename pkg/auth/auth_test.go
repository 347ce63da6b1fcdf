package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"

	"poolselect/internal/testcerts"
)

func TestServerConfig(t *testing.T) {
	files := testcerts.Generate(t, "admin")

	cfg, err := ServerConfig(TLSOptions{CertFile: files.ServerCertFile, KeyFile: files.ServerKeyFile})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	cfg, err = ServerConfig(TLSOptions{
		CertFile:   files.ServerCertFile,
		KeyFile:    files.ServerKeyFile,
		CAFile:     files.CAFile,
		MinVersion: "1.3",
	})
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.NotNil(t, cfg.ClientCAs)

	cfg, err = ServerConfig(TLSOptions{
		CertFile:          files.ServerCertFile,
		KeyFile:           files.ServerKeyFile,
		CAFile:            files.CAFile,
		RequireClientCert: true,
	})
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
}

func TestServerConfigErrors(t *testing.T) {
	files := testcerts.Generate(t, "admin")
	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0600))

	_, err := ServerConfig(TLSOptions{CertFile: files.ServerCertFile})
	assert.ErrorIs(t, err, ErrMissingCertificate)

	_, err = ServerConfig(TLSOptions{CertFile: files.ServerCertFile, KeyFile: files.ServerKeyFile, MinVersion: "1.0"})
	assert.ErrorIs(t, err, ErrInvalidTLSVersion)

	_, err = ServerConfig(TLSOptions{CertFile: files.ServerCertFile, KeyFile: files.ServerKeyFile, RequireClientCert: true})
	assert.ErrorIs(t, err, ErrInvalidCA)

	_, err = ServerConfig(TLSOptions{CertFile: files.ServerCertFile, KeyFile: files.ServerKeyFile, CAFile: garbage})
	assert.ErrorIs(t, err, ErrInvalidCA)

	_, err = ServerConfig(TLSOptions{CertFile: files.ServerCertFile, KeyFile: files.ClientKeyFile})
	assert.Error(t, err, "mismatched key")
}

func TestClientConfig(t *testing.T) {
	files := testcerts.Generate(t, "admin")

	cfg, err := ClientConfig(TLSOptions{CAFile: files.CAFile, ServerName: "localhost"})
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)
	assert.Equal(t, "localhost", cfg.ServerName)

	cfg, err = ClientConfig(TLSOptions{CAFile: files.CAFile, CertFile: files.ClientCertFile, KeyFile: files.ClientKeyFile})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)

	_, err = ClientConfig(TLSOptions{CertFile: files.ClientCertFile})
	assert.ErrorIs(t, err, ErrMissingCertificate)

	_, err = ClientConfig(TLSOptions{CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)
}

func TestEnabled(t *testing.T) {
	assert.False(t, TLSOptions{}.Enabled())
	assert.False(t, TLSOptions{MinVersion: "1.3", ServerName: "pm"}.Enabled())
	assert.True(t, TLSOptions{CAFile: "ca.pem"}.Enabled())
}

func TestPeerName(t *testing.T) {
	assert.Empty(t, PeerName(context.Background()))

	addr := &net.TCPAddr{IP: net.IPv4(192, 0, 2, 7), Port: 40000}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: addr})
	assert.Equal(t, "192.0.2.7:40000", PeerName(ctx))

	leaf := &x509.Certificate{Subject: pkix.Name{CommonName: "admin"}}
	info := credentials.TLSInfo{State: tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{leaf}}}}
	ctx = peer.NewContext(context.Background(), &peer.Peer{Addr: addr, AuthInfo: info})
	assert.Equal(t, "admin", PeerName(ctx))

	ctx = peer.NewContext(context.Background(), &peer.Peer{Addr: addr, AuthInfo: credentials.TLSInfo{}})
	assert.Equal(t, "192.0.2.7:40000", PeerName(ctx), "unverified TLS peers fall back to the address")
}
