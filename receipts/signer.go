package receipts

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// Signer holds the issuer's ECDSA P-256 key and signs receipts as
// COSE_Sign1 messages.
type Signer struct {
	privateKey *ecdsa.PrivateKey // Keep private - sensitive!
	PublicKey  *ecdsa.PublicKey
	coseSigner cose.Signer
}

// NewSigner creates a Signer with a freshly generated key. The key lives
// only for the process lifetime; use NewSignerFromPEMFile when receipts
// must stay verifiable across restarts.
func NewSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return newSigner(key)
}

// NewSignerFromPEMFile loads an EC private key from a PEM file.
func NewSignerFromPEMFile(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("signing key %s: expected EC PRIVATE KEY PEM block", path)
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return newSigner(key)
}

func newSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	coseSigner, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create COSE signer: %w", err)
	}
	return &Signer{
		privateKey: key,
		PublicKey:  &key.PublicKey,
		coseSigner: coseSigner,
	}, nil
}

// Sign encodes the receipt as CBOR and returns the serialized
// COSE_Sign1 message.
func (s *Signer) Sign(r Receipt) ([]byte, error) {
	payload, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode receipt payload: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, s.coseSigner); err != nil {
		return nil, fmt.Errorf("sign receipt %s: %w", r.ReceiptID, err)
	}

	signed, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("marshal signed receipt: %w", err)
	}
	return signed, nil
}

// PublicKeyPEM returns the verification key in PEM format, suitable for
// distribution to indexers.
func (s *Signer) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(s.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}

	return string(pem.EncodeToMemory(pemBlock)), nil
}

// MarshalPrivateKeyPEM serializes the private key for storage.
func (s *Signer) MarshalPrivateKeyPEM() ([]byte, error) {
	derBytes, err := x509.MarshalECPrivateKey(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: derBytes,
	}

	return pem.EncodeToMemory(pemBlock), nil
}
