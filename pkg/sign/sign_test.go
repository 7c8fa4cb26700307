package sign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/apigateway/pkg/constants"
)

func TestSign_KnownDigests(t *testing.T) {
	md5Signer := MustNew(constants.SignAlgorithmMD5)
	sha := MustNew(constants.SignAlgorithmSHA256)

	// GET requests sign the empty body.
	assert.Equal(t, "10fc779e939bbc6ec2a7addbc7e3c5b9", md5Signer.Sign("", "abc"))
	assert.Equal(t, "7de30054b8025a9064f575cc81353f610cf61b46859285e7b450de150821bd5c", sha.Sign("hello", "sk"))
}

func TestSign_Deterministic(t *testing.T) {
	for _, algo := range []constants.SignAlgorithm{constants.SignAlgorithmMD5, constants.SignAlgorithmSHA256} {
		s := MustNew(algo)
		body := `{"city":"北京"}`

		assert.Equal(t, s.Sign(body, "secret"), s.Sign(body, "secret"), algo)
		assert.NotEqual(t, s.Sign(body, "secret"), s.Sign(`{"city":"北亰"}`, "secret"), algo)
		assert.NotEqual(t, s.Sign(body, "secret"), s.Sign(body+" ", "secret"), algo)
		assert.NotEqual(t, s.Sign(body, "secret"), s.Sign(body, "secreT"), algo)
	}
}

func TestSign_SeparatorIsPartOfPayload(t *testing.T) {
	s := MustNew(constants.SignAlgorithmMD5)

	assert.NotEqual(t, s.Sign("ab", "c"), s.Sign("a", "bc"))
}

func TestVerify(t *testing.T) {
	s := MustNew(constants.SignAlgorithmMD5)
	sig := s.Sign("", "sk")
	require.Equal(t, "04c8dd58f64f443a2413b266279e0363", sig)

	assert.True(t, s.Verify("", "sk", sig))
	assert.False(t, s.Verify("", "sk", "04c8dd58f64f443a2413b266279e0364"))
	assert.False(t, s.Verify("x", "sk", sig))
	assert.False(t, s.Verify("", "sk", ""))
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	_, err := New("crc32")
	require.Error(t, err)

	s, err := New("")
	require.NoError(t, err)
	assert.Equal(t, MustNew(constants.SignAlgorithmMD5).Sign("a", "b"), s.Sign("a", "b"))
}
