package tokens

import (
	"bytes"

	"golang.org/x/crypto/cryptobyte"
)

// struct {
//     uint16_t token_type;
//     uint8_t nonce[32];
//     uint8_t challenge_digest[32];
//     uint8_t token_key_id[32];
//     uint8_t authenticator[Nk];
// } Token;

type Token struct {
	TokenType     uint16
	Nonce         []byte
	Context       []byte // SHA-256 digest of the TokenChallenge
	KeyID         []byte
	Authenticator []byte
}

func (t Token) AuthenticatorInput() []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint16(t.TokenType)
	b.AddBytes(t.Nonce)
	b.AddBytes(t.Context)
	b.AddBytes(t.KeyID)
	return b.BytesOrPanic()
}

func (t Token) Marshal() []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint16(t.TokenType)
	b.AddBytes(t.Nonce)
	b.AddBytes(t.Context)
	b.AddBytes(t.KeyID)
	b.AddBytes(t.Authenticator)
	return b.BytesOrPanic()
}

func (t Token) Equal(o Token) bool {
	return t.TokenType == o.TokenType &&
		bytes.Equal(t.Nonce, o.Nonce) &&
		bytes.Equal(t.Context, o.Context) &&
		bytes.Equal(t.KeyID, o.KeyID) &&
		bytes.Equal(t.Authenticator, o.Authenticator)
}

// TruncatedKeyID returns the last byte of the token key identifier, which is
// how issuance requests name the key they were blinded against.
func (t Token) TruncatedKeyID() uint8 {
	if len(t.KeyID) == 0 {
		return 0
	}
	return t.KeyID[len(t.KeyID)-1]
}
