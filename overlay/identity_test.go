package overlay

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeGarbagePEM writes a validly-PEM-encoded but non-ed25519 private key, exercising
// LoadOrCreateIdentity's type-assertion failure path.
func writeGarbagePEM(path string) error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return err
	}
	return os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600)
}

func TestLoadOrCreateIdentityEphemeralWhenPathEmpty(t *testing.T) {
	priv, err := LoadOrCreateIdentity("")
	require.NoError(t, err)
	assert.Len(t, priv, ed25519.PrivateKeySize)
}

func TestLoadOrCreateIdentityPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	second, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLoadOrCreateIdentityRejectsNonEd25519Key(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")
	require.NoError(t, writeGarbagePEM(path))

	_, err := LoadOrCreateIdentity(path)
	assert.Error(t, err)
}

func TestNodeIDFromPublicKeyRoundTrips(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	id, err := NodeIDFromPublicKey(pub)
	require.NoError(t, err)
	assert.Equal(t, pub, ed25519.PublicKey(id.Bytes()))

	tlsCfg, err := BuildTLSConfig(priv)
	require.NoError(t, err)
	assert.True(t, tlsCfg.InsecureSkipVerify)
	assert.Len(t, tlsCfg.Certificates, 1)
}

func TestRemoteNodeIDFromConnectionStateNoCertificates(t *testing.T) {
	_, err := remoteNodeIDFromConnectionState(tls.ConnectionState{})
	assert.Error(t, err)
}

func TestRemoteNodeIDFromConnectionStateExtractsPeerKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	tlsCfg, err := BuildTLSConfig(priv)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(tlsCfg.Certificates[0].Certificate[0])
	require.NoError(t, err)

	remote, err := remoteNodeIDFromConnectionState(tls.ConnectionState{PeerCertificates: []*x509.Certificate{leaf}})
	require.NoError(t, err)
	assert.Equal(t, pub, ed25519.PublicKey(remote.Bytes()))
}
