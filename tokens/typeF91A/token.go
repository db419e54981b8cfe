package typeF91A

import (
	"errors"

	"github.com/cloudflare/circl/oprf"
	"golang.org/x/crypto/cryptobyte"

	"github.com/kagisearch/privacypass-lib/tokens"
)

const (
	NonceLength = 32
	// Nk: SHA-512 output of the ristretto255 VOPRF suite.
	AuthenticatorLength = 64
	// TokenSize is the exact encoded length of a type 0xF91A token.
	TokenSize = 2 + NonceLength + 32 + 32 + AuthenticatorLength
	// ProofLength is the DLEQ proof size, two ristretto255 scalars.
	ProofLength = 64
)

// Suite is the VOPRF ciphersuite backing this token type.
var Suite = oprf.SuiteRistretto255

var (
	ErrInvalidTokenEncoding         = errors.New("invalid Token encoding")
	ErrInvalidTokenRequestEncoding  = errors.New("invalid TokenRequest encoding")
	ErrInvalidTokenResponseEncoding = errors.New("invalid TokenResponse encoding")
)

func UnmarshalBatchedPrivateToken(data []byte) (tokens.Token, error) {
	s := cryptobyte.String(data)

	token := tokens.Token{}
	if !s.ReadUint16(&token.TokenType) ||
		!s.ReadBytes(&token.Nonce, NonceLength) ||
		!s.ReadBytes(&token.Context, 32) ||
		!s.ReadBytes(&token.KeyID, 32) ||
		!s.ReadBytes(&token.Authenticator, AuthenticatorLength) ||
		!s.Empty() {
		return tokens.Token{}, ErrInvalidTokenEncoding
	}

	return token, nil
}
