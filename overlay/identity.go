package overlay

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/datum-cloud/datum-connect/nodeid"
)

// NodeIDFromPublicKey derives a NodeId directly from an ed25519 public key: both are 32 raw bytes,
// so the key itself is the identifier, exactly as spec.md §4 describes ("opaque 32-byte node
// public-key identifier").
func NodeIDFromPublicKey(pub ed25519.PublicKey) (nodeid.NodeId, error) {
	return nodeid.FromBytes(pub)
}

// LoadOrCreateIdentity reads an ed25519 private key PEM file at path, or generates and persists a
// new one if it does not exist. Grounded on tlsconfig.CertReloader's load-from-disk-or-fail shape,
// adapted to generate-on-first-use since this module's identity is self-issued rather than
// CA-issued.
func LoadOrCreateIdentity(path string) (ed25519.PrivateKey, error) {
	if path == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	}

	if data, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("overlay: %s does not contain a PEM block", path)
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("overlay: failed to parse node key at %s: %w", path, err)
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("overlay: node key at %s is not ed25519", path)
		}
		return priv, nil
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("overlay: failed to generate node key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("overlay: failed to marshal node key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		return nil, fmt.Errorf("overlay: failed to persist node key at %s: %w", path, err)
	}
	return priv, nil
}

// BuildTLSConfig produces the self-signed tls.Config a QuicEndpoint authenticates with. Peer
// certificate verification (tying the handshake to the remote's claimed NodeId) is the overlay
// library's job in the real system this module approximates; quic-go here stands in for that
// opaque dependency, so neither side verifies the certificate chain. The accepting side requires
// a peer certificate and derives the remote NodeId from its leaf once the handshake completes;
// the dialing side records the NodeId it was asked to dial and does not compare it with the
// peer's certificate.
func BuildTLSConfig(priv ed25519.PrivateKey) (*tls.Config, error) {
	pub := priv.Public().(ed25519.PublicKey)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("overlay: failed to self-sign node certificate: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS13,
	}, nil
}

// remoteNodeIDFromConnectionState extracts the NodeId the peer authenticated with during the QUIC
// handshake, used by quicConnection to fill in RemoteNodeID() on accepted inbound connections
// (Connect already knows its target's NodeId up front; Accept does not).
func remoteNodeIDFromConnectionState(state tls.ConnectionState) (nodeid.NodeId, error) {
	if len(state.PeerCertificates) == 0 {
		return nodeid.NodeId{}, fmt.Errorf("overlay: peer presented no certificate")
	}
	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return nodeid.NodeId{}, fmt.Errorf("overlay: peer certificate is not ed25519")
	}
	return NodeIDFromPublicKey(pub)
}
