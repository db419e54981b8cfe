package tokens

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/crypto/cryptobyte"
)

// RedemptionContextLength is the only non-empty redemption context size.
const RedemptionContextLength = 32

var (
	ErrEmptyIssuerName          = errors.New("tokens: empty issuer name")
	ErrInvalidRedemptionContext = errors.New("tokens: redemption context must be empty or 32 bytes")
	ErrInvalidChallengeEncoding = errors.New("tokens: invalid TokenChallenge encoding")
	ErrChallengeFieldTooLong    = errors.New("tokens: TokenChallenge field exceeds its length prefix")
)

//	struct {
//	    uint16_t token_type;
//	    opaque issuer_name<1..2^16-1>;
//	    opaque redemption_context<0..32>;
//	    opaque origin_info<0..2^16-1>;
//	} TokenChallenge;
type TokenChallenge struct {
	TokenType         uint16
	IssuerName        string
	RedemptionContext []byte
	OriginInfo        []string
}

func NewTokenChallenge(tokenType uint16, issuerName string, redemptionContext []byte, originInfo []string) TokenChallenge {
	challenge := TokenChallenge{
		TokenType:  tokenType,
		IssuerName: issuerName,
	}
	if len(redemptionContext) > 0 {
		challenge.RedemptionContext = make([]byte, len(redemptionContext))
		copy(challenge.RedemptionContext, redemptionContext)
	}
	if len(originInfo) > 0 {
		challenge.OriginInfo = make([]string, len(originInfo))
		copy(challenge.OriginInfo, originInfo)
	}
	return challenge
}

func (c TokenChallenge) Equals(o TokenChallenge) bool {
	if c.TokenType == o.TokenType &&
		c.IssuerName == o.IssuerName &&
		bytes.Equal(c.RedemptionContext, o.RedemptionContext) &&
		reflect.DeepEqual(c.originNames(), o.originNames()) {
		return true
	}
	return false
}

func (c TokenChallenge) originNames() []string {
	if len(c.OriginInfo) == 0 {
		return nil
	}
	return c.OriginInfo
}

// Serialize returns the wire encoding of the challenge, failing when a field
// does not fit the structure above.
func (c TokenChallenge) Serialize() ([]byte, error) {
	if len(c.IssuerName) == 0 {
		return nil, ErrEmptyIssuerName
	}
	if l := len(c.RedemptionContext); l != 0 && l != RedemptionContextLength {
		return nil, ErrInvalidRedemptionContext
	}
	originInfo := strings.Join(c.OriginInfo, ",")
	if len(c.IssuerName) > 0xFFFF || len(originInfo) > 0xFFFF {
		return nil, ErrChallengeFieldTooLong
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddUint16(c.TokenType)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(c.IssuerName))
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(c.RedemptionContext)
	})
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(originInfo))
	})
	return b.Bytes()
}

func (c TokenChallenge) Marshal() []byte {
	enc, err := c.Serialize()
	if err != nil {
		panic(err)
	}
	return enc
}

// Digest is the SHA-256 hash of the serialized challenge; tokens carry it
// as their context.
func (c TokenChallenge) Digest() ([]byte, error) {
	enc, err := c.Serialize()
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(enc)
	return digest[:], nil
}

// Base64 returns the URL-safe, padded base64 text form used inside headers.
func (c TokenChallenge) Base64() (string, error) {
	enc, err := c.Serialize()
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(enc), nil
}

func UnmarshalTokenChallenge(data []byte) (TokenChallenge, error) {
	s := cryptobyte.String(data)

	challenge := TokenChallenge{}

	if !s.ReadUint16(&challenge.TokenType) {
		return TokenChallenge{}, ErrInvalidChallengeEncoding
	}

	var issuerName cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&issuerName) || issuerName.Empty() {
		return TokenChallenge{}, ErrInvalidChallengeEncoding
	}
	challenge.IssuerName = string(issuerName)

	var redemptionContext cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&redemptionContext) {
		return TokenChallenge{}, ErrInvalidChallengeEncoding
	}
	switch len(redemptionContext) {
	case 0:
	case RedemptionContextLength:
		challenge.RedemptionContext = make([]byte, len(redemptionContext))
		copy(challenge.RedemptionContext, redemptionContext)
	default:
		return TokenChallenge{}, ErrInvalidRedemptionContext
	}

	var originInfo cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&originInfo) || !s.Empty() {
		return TokenChallenge{}, ErrInvalidChallengeEncoding
	}
	if !originInfo.Empty() {
		challenge.OriginInfo = strings.Split(string(originInfo), ",")
	}

	return challenge, nil
}

func UnmarshalTokenChallengeBase64(text string) (TokenChallenge, error) {
	data, err := base64.URLEncoding.DecodeString(text)
	if err != nil {
		return TokenChallenge{}, fmt.Errorf("%w: %v", ErrInvalidChallengeEncoding, err)
	}
	return UnmarshalTokenChallenge(data)
}
