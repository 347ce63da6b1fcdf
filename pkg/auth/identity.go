package auth

import (
	"context"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

// PeerName identifies the caller of an RPC. It is the common name of a
// verified client certificate, otherwise the remote address.
func PeerName(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return ""
	}
	if info, ok := p.AuthInfo.(credentials.TLSInfo); ok {
		chains := info.State.VerifiedChains
		if len(chains) > 0 && len(chains[0]) > 0 && chains[0][0].Subject.CommonName != "" {
			return chains[0][0].Subject.CommonName
		}
	}
	if p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
