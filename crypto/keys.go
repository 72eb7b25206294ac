package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable prefix used for account addresses.
type AddressPrefix string

// GigPrefix is the prefix carried by every marketplace account address.
const GigPrefix AddressPrefix = "gig"

// Address represents a 20-byte account address with a bech32 prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: b}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address payload: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("address must decode to 20 bytes, got %d", len(conv))
	}
	if prefix != string(GigPrefix) {
		return Address{}, fmt.Errorf("unsupported address prefix: %s", prefix)
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// PrivateKey wraps an ECDSA key used to derive account addresses.
type PrivateKey struct {
	PrivateKey *ecdsa.PrivateKey
}

// PublicKey wraps the corresponding public key.
type PublicKey struct {
	PublicKey *ecdsa.PublicKey
}

// GeneratePrivateKey produces a fresh secp256k1 key pair.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{PrivateKey: key}, nil
}

// PubKey returns the public component of the key.
func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{PublicKey: &k.PrivateKey.PublicKey}
}

// Address derives the marketplace address for the public key.
func (p *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*p.PublicKey).Bytes()
	return NewAddress(GigPrefix, addrBytes)
}
