package tokens

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWWWAuthenticate(t *testing.T) {
	challenge := createTokenChallenge(testTokenType, nil, "issuer.example", []string{"origin.example"})
	tokenKey := []byte{0x01, 0x02, 0x03}

	header, err := BuildWWWAuthenticate(challenge, tokenKey, 0)
	require.NoError(t, err)

	challengeEnc, err := challenge.Base64()
	require.NoError(t, err)
	expected := `PrivateToken challenge="` + challengeEnc + `", token-key="` + base64.URLEncoding.EncodeToString(tokenKey) + `"`
	assert.Equal(t, expected, header)
	assert.NotContains(t, header, "max-age")

	header, err = BuildWWWAuthenticate(challenge, tokenKey, 3600)
	require.NoError(t, err)
	assert.Equal(t, expected+`, max-age="3600"`, header)

	recovered, key, maxAge, err := ParseWWWAuthenticate(header)
	require.NoError(t, err)
	assert.True(t, challenge.Equals(recovered))
	assert.Equal(t, tokenKey, key)
	assert.Equal(t, uint32(3600), maxAge)
}

func TestBuildWWWAuthenticateInvalidChallenge(t *testing.T) {
	challenge := createTokenChallenge(testTokenType, nil, "", nil)
	_, err := BuildWWWAuthenticate(challenge, []byte{0x01}, 0)
	require.ErrorIs(t, err, ErrEmptyIssuerName)
}

func TestParseAuthorization(t *testing.T) {
	token, err := ParseAuthorization(`PrivateToken token="abc-_="`)
	require.NoError(t, err)
	assert.Equal(t, "abc-_=", token)

	token, err = ParseAuthorization(`privatetoken token=abc`)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = ParseAuthorization(`Bearer token="abc"`)
	require.ErrorIs(t, err, ErrInvalidAuthScheme)

	_, err = ParseAuthorization(`PrivateToken nonce="abc"`)
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = ParseAuthorization(`PrivateToken token`)
	require.Error(t, err)
}
