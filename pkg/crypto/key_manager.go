// Copyright 2025 Certnode Project
//
// KeyManager handles loading, generating, and persisting a validator's
// signing key, mirroring the load-or-generate shape used throughout this
// codebase's key handling.
package crypto

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// KeyManager owns a single validator's private key on disk.
type KeyManager struct {
	keyPath string
	priv    *PrivateKey
	pub     *PublicKey
}

// NewKeyManager creates a manager bound to keyPath. keyPath may be empty,
// in which case keys are never persisted.
func NewKeyManager(keyPath string) *KeyManager {
	return &KeyManager{keyPath: keyPath}
}

// LoadOrGenerate loads the key at keyPath if present, otherwise generates
// and (if keyPath is set) persists a new one.
func (km *KeyManager) LoadOrGenerate() error {
	if km.keyPath != "" {
		if _, err := os.Stat(km.keyPath); err == nil {
			return km.Load()
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat key file: %w", err)
		}
	}
	return km.Generate()
}

// Load reads a hex-encoded private key from keyPath.
func (km *KeyManager) Load() error {
	if km.keyPath == "" {
		return fmt.Errorf("no key path configured")
	}
	data, err := os.ReadFile(km.keyPath)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}
	raw, err := hex.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("decode key hex: %w", err)
	}
	priv, err := privateKeyFromBytes(raw)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	km.priv = priv
	km.pub = priv.PublicKey()
	return nil
}

// Generate creates a fresh key pair, persisting it if keyPath is set.
func (km *KeyManager) Generate() error {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	km.priv, km.pub = priv, pub
	if km.keyPath == "" {
		return nil
	}
	return km.save()
}

func (km *KeyManager) save() error {
	if err := os.MkdirAll(filepath.Dir(km.keyPath), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	raw := hex.EncodeToString(privateKeyBytes(km.priv))
	if err := os.WriteFile(km.keyPath, []byte(raw), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// PrivateKey returns the managed private key, or nil if not yet loaded.
func (km *KeyManager) PrivateKey() *PrivateKey { return km.priv }

// PublicKey returns the managed public key, or nil if not yet loaded.
func (km *KeyManager) PublicKey() *PublicKey { return km.pub }

// WritePublicKeyFile writes the validator's .pub file into validatorsDir
// under the given validator id, the format read back by the validator
// coordinator at boot.
func (km *KeyManager) WritePublicKeyFile(validatorsDir, validatorID string) error {
	if km.pub == nil {
		return fmt.Errorf("no public key loaded")
	}
	if err := os.MkdirAll(validatorsDir, 0o755); err != nil {
		return fmt.Errorf("create validators dir: %w", err)
	}
	path := filepath.Join(validatorsDir, validatorID+".pub")
	return os.WriteFile(path, []byte(km.pub.HexString()), 0o644)
}
