// Copyright 2025 Certnode Project
//
// Package crypto handles validator key-pair generation, the canonical
// transaction hash, and signature verification for the fact store.
package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey wraps a secp256k1 signing key.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// PublicKey wraps a secp256k1 verification key.
type PublicKey struct {
	key *ecdsa.PublicKey
}

// Signature is a 64-byte (R||S) ECDSA signature over a 32-byte hash.
type Signature [64]byte

// GenerateKeyPair creates a new secp256k1 key pair.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	k, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: k}, &PublicKey{key: &k.PublicKey}, nil
}

// PublicKey returns the public half of priv.
func (priv *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: &priv.key.PublicKey}
}

// Bytes returns the uncompressed public key encoding used for .pub files
// and over the wire.
func (pub *PublicKey) Bytes() []byte {
	return ethcrypto.FromECDSAPub(pub.key)
}

// PublicKeyFromBytes parses an uncompressed secp256k1 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	k, err := ethcrypto.UnmarshalPubkey(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &PublicKey{key: k}, nil
}

// CanonicalHash computes the SHA-256 of the five canonical fields in the
// order the spec fixes: subject|predicate|object|validator|timestamp, with
// the timestamp rendered as RFC3339Nano in UTC.
func CanonicalHash(subject, predicate, object, validator string, ts time.Time) [32]byte {
	s := subject + "|" + predicate + "|" + object + "|" + validator + "|" + ts.UTC().Format(time.RFC3339Nano)
	return sha256.Sum256([]byte(s))
}

// Sign produces a 64-byte (R||S) signature over hash. The 65th
// (recovery-id) byte that go-ethereum's Sign returns is dropped since
// verification here is against a known public key, not key recovery.
func Sign(priv *PrivateKey, hash [32]byte) (Signature, error) {
	sig, err := ethcrypto.Sign(hash[:], priv.key)
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}
	var out Signature
	copy(out[:], sig[:64])
	return out, nil
}

// Verify checks sig against hash and pub.
func Verify(pub *PublicKey, hash [32]byte, sig Signature) bool {
	return ethcrypto.VerifySignature(pub.Bytes(), hash[:], sig[:])
}

// SignatureFromBytes validates and wraps a raw 64-byte signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != len(sig) {
		return sig, fmt.Errorf("signature must be %d bytes, got %d", len(sig), len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

// privateKeyFromBytes parses a raw secp256k1 scalar into a PrivateKey.
func privateKeyFromBytes(b []byte) (*PrivateKey, error) {
	k, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: k}, nil
}

// privateKeyBytes returns the raw secp256k1 scalar for priv.
func privateKeyBytes(priv *PrivateKey) []byte {
	return ethcrypto.FromECDSA(priv.key)
}

// HexString and PublicKeyFromHex round-trip a public key through the
// .pub file format: a single hex-encoded line.
func (pub *PublicKey) HexString() string {
	return hex.EncodeToString(pub.Bytes())
}

// PublicKeyFromHex parses the .pub file contents produced by HexString.
func PublicKeyFromHex(s string) (*PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key hex: %w", err)
	}
	return PublicKeyFromBytes(b)
}
