// Package nodeid defines the opaque public-key identifier used to address peers on the overlay.
package nodeid

import (
	"bytes"
	"encoding/base32"
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a NodeId. Node ids are ed25519-style public keys.
const Size = 32

// zBase32Encoding is the human-oriented base32 alphabet used by the overlay for node ids that
// appear in hostnames and config files, where mixed case and ambiguous characters are undesirable.
var zBase32Encoding = base32.NewEncoding("ybndrfg8ejkmcpqxot1uwisza345h769").WithPadding(base32.NoPadding)

// NodeId is a fixed-size public-key identifier of a device on the overlay. The zero value is not
// a valid NodeId; construct one with Parse or FromBytes.
type NodeId [Size]byte

// FromBytes copies b into a NodeId. b must be exactly Size bytes long.
func FromBytes(b []byte) (NodeId, error) {
	var id NodeId
	if len(b) != Size {
		return id, fmt.Errorf("nodeid: expected %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Parse decodes a NodeId from either hex or z-base-32 text, trying hex first.
func Parse(s string) (NodeId, error) {
	if len(s) == hex.EncodedLen(Size) {
		if raw, err := hex.DecodeString(s); err == nil {
			return FromBytes(raw)
		}
	}
	raw, err := zBase32Encoding.DecodeString(s)
	if err != nil {
		return NodeId{}, fmt.Errorf("nodeid: %q is neither valid hex nor z-base-32: %w", s, err)
	}
	return FromBytes(raw)
}

// Bytes returns the raw public-key bytes.
func (id NodeId) Bytes() []byte {
	return id[:]
}

// String renders the NodeId as lowercase hex, the canonical form used in logs and metrics labels.
func (id NodeId) String() string {
	return hex.EncodeToString(id[:])
}

// ZBase32 renders the NodeId using the z-base-32 alphabet, the form accepted in hostnames.
func (id NodeId) ZBase32() string {
	return zBase32Encoding.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value, which never identifies a real peer.
func (id NodeId) IsZero() bool {
	return id == NodeId{}
}

// Equal reports byte-wise equality. Provided for readability at call sites; NodeId is comparable
// directly with ==, which Equal just documents.
func (id NodeId) Equal(other NodeId) bool {
	return id == other
}

// Less provides a deterministic total order over NodeIds, used for tie-breaking when a caller
// must pick one of several equally-preferred peers deterministically.
func (id NodeId) Less(other NodeId) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// MarshalText implements encoding.TextMarshaler so NodeId can round-trip through JSON/YAML config.
func (id NodeId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeId) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
