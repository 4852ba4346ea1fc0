// Package keystore holds the rider device's identity: a stable device id
// and an ECDSA P-256 key pair created on first use. The private key never
// leaves this package; callers get a Sign operation and the public SPKI PEM.
package keystore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	keyFile = "device_key.pem"
	idFile  = "device_id"
)

// Keystore is a file-backed device identity.
type Keystore struct {
	dir      string
	deviceID string
	priv     *ecdsa.PrivateKey
}

// Open loads the keystore from dir, creating the key pair and device id on
// first use. Files are written with owner-only permissions.
func Open(dir string) (*Keystore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("keystore: dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create dir: %w", err)
	}

	ks := &Keystore{dir: dir}
	if err := ks.loadOrCreateKey(); err != nil {
		return nil, err
	}
	if err := ks.loadOrCreateID(); err != nil {
		return nil, err
	}
	return ks, nil
}

// DeviceID returns the stable device identifier.
func (k *Keystore) DeviceID() string {
	return k.deviceID
}

// Sign signs the payload with the device private key (ECDSA over a SHA-256
// digest) and returns the base64-encoded DER signature.
func (k *Keystore) Sign(payload []byte) (string, error) {
	digest := sha256.Sum256(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, k.priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("keystore: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKeyPEM returns the device public key as SPKI PEM, the form the
// server embeds into issued credentials.
func (k *Keystore) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.priv.PublicKey)
	if err != nil {
		return "", fmt.Errorf("keystore: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func (k *Keystore) loadOrCreateKey() error {
	path := filepath.Join(k.dir, keyFile)
	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return fmt.Errorf("keystore: %s is not PEM", path)
		}
		parsed, parseErr := x509.ParsePKCS8PrivateKey(block.Bytes)
		if parseErr != nil {
			return fmt.Errorf("keystore: parse key: %w", parseErr)
		}
		ecKey, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return errors.New("keystore: stored key is not ECDSA")
		}
		k.priv = ecKey
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("keystore: read key: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("keystore: generate key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("keystore: marshal key: %w", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, pemData, 0o600); err != nil {
		return fmt.Errorf("keystore: write key: %w", err)
	}
	k.priv = key
	return nil
}

func (k *Keystore) loadOrCreateID() error {
	path := filepath.Join(k.dir, idFile)
	data, err := os.ReadFile(path)
	if err == nil {
		k.deviceID = strings.TrimSpace(string(data))
		if k.deviceID != "" {
			return nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("keystore: read device id: %w", err)
	}

	k.deviceID = "dev-" + uuid.NewString()[:8]
	if err := os.WriteFile(path, []byte(k.deviceID+"\n"), 0o600); err != nil {
		return fmt.Errorf("keystore: write device id: %w", err)
	}
	return nil
}
