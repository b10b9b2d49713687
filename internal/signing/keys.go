package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const (
	privateKeyFile = "tre-signing-key.pem"
	publicKeyFile  = "tre-signing-key.pub"
)

// KeyPair holds the engine's Ed25519 command-signing keypair. The private key
// never leaves this process; the policy engine, authority subsystem, and
// audit ledger each have their own independent keys.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
	KeyID   CommandKeyID
}

// LoadOrGenerateKeyPair loads the keypair from keyDir, generating and
// persisting a fresh one if none exists. The key id is the SHA-256 of the
// public key PEM.
func LoadOrGenerateKeyPair(keyDir string) (*KeyPair, error) {
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}

	privPath := filepath.Join(keyDir, privateKeyFile)
	if _, err := os.Stat(privPath); err == nil {
		return loadKeyPair(keyDir)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	kp := &KeyPair{Private: priv, Public: pub, KeyID: keyID(pub)}
	if err := saveKeyPair(keyDir, kp); err != nil {
		return nil, err
	}
	log.Info().Str("key_id", string(kp.KeyID)).Str("dir", keyDir).Msg("generated new signing keypair")
	return kp, nil
}

func loadKeyPair(keyDir string) (*KeyPair, error) {
	raw, err := os.ReadFile(filepath.Join(keyDir, privateKeyFile)) // #nosec G304 -- path comes from validated config
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("private key file is not PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not Ed25519")
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{Private: priv, Public: pub, KeyID: keyID(pub)}, nil
}

func saveKeyPair(keyDir string, kp *KeyPair) error {
	privDER, err := x509.MarshalPKCS8PrivateKey(kp.Private)
	if err != nil {
		return fmt.Errorf("marshaling private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(filepath.Join(keyDir, privateKeyFile), privPEM, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(keyDir, publicKeyFile), publicKeyPEM(kp.Public), 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

func publicKeyPEM(pub ed25519.PublicKey) []byte {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		// Ed25519 public keys always marshal; a failure here is a fault.
		panic(fmt.Sprintf("signing: marshaling public key: %v", err))
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func keyID(pub ed25519.PublicKey) CommandKeyID {
	sum := sha256.Sum256(publicKeyPEM(pub))
	return CommandKeyID(hex.EncodeToString(sum[:]))
}
