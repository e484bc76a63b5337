// Package auth implements the SCRAM style challenge/response
// authentication methods used by the wire protocol. Both the client and
// the in-process test server derive proofs through the same functions, so
// the exchange is verified end to end without golden data.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// ClientChallengeSize is the size of the random nonce the client opens
	// the exchange with.
	ClientChallengeSize = 64

	// SaltSize is the size of the server-provided salt.
	SaltSize = 16

	// ServerChallengeSize is the size of the server nonce.
	ServerChallengeSize = 48

	// PBKDF2Rounds is the iteration count for SCRAMPBKDF2SHA256.
	PBKDF2Rounds = 15000

	keySize = sha256.Size
)

// NewClientChallenge returns a fresh random client nonce.
func NewClientChallenge() ([]byte, error) {
	nonce := make([]byte, ClientChallengeSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generating client challenge")
	}
	return nonce, nil
}

// NewServerChallenge returns a fresh salt and server nonce.
func NewServerChallenge() (salt, nonce []byte, err error) {
	salt = make([]byte, SaltSize)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, errors.Wrap(err, "generating salt")
	}
	nonce = make([]byte, ServerChallengeSize)
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, errors.Wrap(err, "generating server challenge")
	}
	return salt, nonce, nil
}

// SaltedPassword derives the salted key for the given method.
func SaltedPassword(method, password string, salt []byte) ([]byte, error) {
	switch method {
	case "SCRAMSHA256":
		mac := hmac.New(sha256.New, []byte(password))
		mac.Write(salt)
		return mac.Sum(nil), nil
	case "SCRAMPBKDF2SHA256":
		return pbkdf2.Key([]byte(password), salt, PBKDF2Rounds, keySize, sha256.New), nil
	default:
		return nil, errors.Errorf("unknown authentication method %q", method)
	}
}

// ClientProof computes the proof the client sends in the second round.
// The proof binds the salted password to both nonces so a replay with a
// different challenge pair fails verification.
func ClientProof(saltedPassword, salt, serverChallenge, clientChallenge []byte) []byte {
	key := sha256.Sum256(saltedPassword)

	mac := hmac.New(sha256.New, key[:])
	mac.Write(salt)
	mac.Write(serverChallenge)
	mac.Write(clientChallenge)
	sig := mac.Sum(nil)

	proof := make([]byte, keySize)
	for i := range proof {
		proof[i] = sig[i] ^ saltedPassword[i%len(saltedPassword)]
	}
	return proof
}

// Verify checks a client proof against the expected value.
func Verify(proof, saltedPassword, salt, serverChallenge, clientChallenge []byte) bool {
	expected := ClientProof(saltedPassword, salt, serverChallenge, clientChallenge)
	return hmac.Equal(proof, expected)
}
