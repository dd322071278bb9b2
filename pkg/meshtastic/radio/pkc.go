package radio

import (
	"crypto/aes"
	"crypto/ecdh"
	cryptoRand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	mathRand "math/rand/v2"

	"github.com/pion/dtls/v3/pkg/crypto/ccm"
	"golang.org/x/crypto/curve25519"
)

const (
	// PKCOverhead is the number of bytes PKI encryption adds to a payload:
	// an 8 byte CCM tag followed by the 4 byte extra nonce.
	PKCOverhead = 12

	pkcTagSize   = 8
	pkcNonceSize = 13
	keySize      = 32
)

var (
	ErrKeyLength      = errors.New("key length must be 32 bytes")
	ErrCiphertextSize = errors.New("ciphertext too short")
)

// CreateNonce builds the 128-bit packet nonce.
// Layout is [64-bit packetId][32-bit fromNode][32-bit block counter]; a non-zero
// extraNonce overwrites the upper half of the packet ID.
func CreateNonce(packetID uint32, fromNode uint32, extraNonce uint32) []byte {
	nonce := make([]byte, 16)

	binary.LittleEndian.PutUint64(nonce[0:], uint64(packetID))
	binary.LittleEndian.PutUint32(nonce[8:], fromNode)

	if extraNonce != 0 {
		binary.LittleEndian.PutUint32(nonce[4:], extraNonce)
	}

	return nonce
}

// GenerateKeyPair creates a new X25519 key pair for PKI direct messages.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	priv, err := ecdh.X25519().GenerateKey(cryptoRand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return priv.PublicKey().Bytes(), priv.Bytes(), nil
}

// PublicKey derives the X25519 public key announced in NODEINFO from a private key.
func PublicKey(privateKey []byte) ([]byte, error) {
	if len(privateKey) != keySize {
		return nil, ErrKeyLength
	}
	return curve25519.X25519(privateKey, curve25519.Basepoint)
}

func sharedSecret(privateKey, publicKey []byte) ([]byte, error) {
	if len(privateKey) != keySize || len(publicKey) != keySize {
		return nil, ErrKeyLength
	}
	key, err := curve25519.X25519(privateKey, publicKey)
	if err != nil {
		return nil, errors.New("could not create shared key")
	}
	sum := sha256.Sum256(key)
	return sum[:], nil
}

// EncryptCurve25519 seals a Data payload for a single recipient using AES-CCM keyed
// with the ECDH shared secret. The random extra nonce is appended to the ciphertext.
func EncryptCurve25519(text, privateKey, publicKey []byte, packetID, fromNode uint32) ([]byte, error) {
	shared, err := sharedSecret(privateKey, publicKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(shared)
	if err != nil {
		return nil, err
	}

	// Only needs to be unique per packet, not unpredictable
	extraNonce := uint32(mathRand.Int32())
	iv := CreateNonce(packetID, fromNode, extraNonce)

	sealer, err := ccm.NewCCM(block, pkcTagSize, pkcNonceSize)
	if err != nil {
		return nil, err
	}
	ciphertext := sealer.Seal(nil, iv[:pkcNonceSize], text, nil)

	return binary.LittleEndian.AppendUint32(ciphertext, extraNonce), nil
}

// DecryptCurve25519 opens a payload produced by EncryptCurve25519. The sender's
// public key and our private key yield the same shared secret.
func DecryptCurve25519(text, privateKey, publicKey []byte, packetID, fromNode uint32) ([]byte, error) {
	if len(text) <= PKCOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextSize, len(text))
	}

	shared, err := sharedSecret(privateKey, publicKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(shared)
	if err != nil {
		return nil, err
	}

	cipherText := text[:len(text)-4]
	extraNonce := binary.LittleEndian.Uint32(text[len(text)-4:])
	iv := CreateNonce(packetID, fromNode, extraNonce)

	opener, err := ccm.NewCCM(block, pkcTagSize, pkcNonceSize)
	if err != nil {
		return nil, err
	}
	return opener.Open(nil, iv[:pkcNonceSize], cipherText, nil)
}
