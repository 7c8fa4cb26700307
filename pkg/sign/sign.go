// Package sign computes request signatures shared by the gateway and the client SDK.
//
// A signature is the hex digest of the UTF-8 bytes of body + "." + secretKey.
// The digest primitive is selectable; md5 is what the marketplace SDK emits.
package sign

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/turtacn/apigateway/pkg/constants"
)

// Signer produces and verifies request signatures.
type Signer interface {
	Sign(body, secretKey string) string
	Verify(body, secretKey, signature string) bool
}

type digestSigner struct {
	newHash func() hash.Hash
}

// New returns a Signer for algo.
func New(algo constants.SignAlgorithm) (Signer, error) {
	switch algo {
	case constants.SignAlgorithmMD5, "":
		return &digestSigner{newHash: md5.New}, nil
	case constants.SignAlgorithmSHA256:
		return &digestSigner{newHash: sha256.New}, nil
	default:
		return nil, fmt.Errorf("unsupported sign algorithm: %s", algo)
	}
}

// MustNew is New for static algorithm names.
func MustNew(algo constants.SignAlgorithm) Signer {
	s, err := New(algo)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *digestSigner) Sign(body, secretKey string) string {
	h := s.newHash()
	h.Write([]byte(body + constants.SignSeparator + secretKey))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *digestSigner) Verify(body, secretKey, signature string) bool {
	expected := s.Sign(body, secretKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
