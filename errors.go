package privacypass

import (
	"errors"
	"fmt"

	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
)

var (
	ErrKeypairCreationFailed    = errors.New("privacypass: failed to construct keypair")
	ErrKeyDerivationFailed      = errors.New("privacypass: failed generating secret key")
	ErrInvalidChallenge         = errors.New("privacypass: invalid token challenge")
	ErrTooManyTokensRequested   = errors.New("privacypass: too many tokens requested")
	ErrIssueTokenResponseFailed = errors.New("privacypass: failed to issue token response")
	ErrWrongTokenSize           = errors.New("privacypass: incorrect number of bytes for a token")
	ErrInvalidEncoding          = errors.New("privacypass: invalid base64 encoding")
	ErrNonCanonicalEncoding     = errors.New("privacypass: received alternative encoding of token")
	ErrTokenDecodeFailed        = errors.New("privacypass: failed to deserialize token")
	ErrInvalidTokenRequest      = errors.New("privacypass: failed to deserialize token request")
	ErrChallengeDigestMismatch  = errors.New("privacypass: token challenge digest mismatch")
	ErrDoubleSpent              = errors.New("privacypass: doubly spent token")
	ErrKeyIDNotFound            = errors.New("privacypass: key id not found")
	ErrInternal                 = errors.New("privacypass: internal error")
)

// WrongTokenSizeError carries the length of a rejected token.
type WrongTokenSizeError struct {
	Size int
}

func (e *WrongTokenSizeError) Error() string {
	return fmt.Sprintf("privacypass: incorrect number of bytes (%d) for a token, expected %d", e.Size, typeF91A.TokenSize)
}

func (e *WrongTokenSizeError) Is(target error) bool {
	return target == ErrWrongTokenSize
}

// TooManyTokensError is returned by the strict issuance policy.
type TooManyTokensError struct {
	Requested int
	Max       int
}

func (e *TooManyTokensError) Error() string {
	return fmt.Sprintf("privacypass: requested %d tokens, max is %d", e.Requested, e.Max)
}

func (e *TooManyTokensError) Is(target error) bool {
	return target == ErrTooManyTokensRequested
}

// Kind classifies errors returned by this package. A token failing
// cryptographic verification is not an error: Validate returns false.
type Kind int

const (
	Internal Kind = iota
	InputMalformed
	PolicyViolation
	KeyManagementFailure
	ProtocolIntegrityFailure
	DoubleSpend
)

func (k Kind) String() string {
	switch k {
	case InputMalformed:
		return "InputMalformed"
	case PolicyViolation:
		return "PolicyViolation"
	case KeyManagementFailure:
		return "KeyManagementFailure"
	case ProtocolIntegrityFailure:
		return "ProtocolIntegrityFailure"
	case DoubleSpend:
		return "DoubleSpend"
	default:
		return "Internal"
	}
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrDoubleSpent, DoubleSpend},
	{ErrTooManyTokensRequested, PolicyViolation},
	{ErrWrongTokenSize, InputMalformed},
	{ErrInvalidEncoding, InputMalformed},
	{ErrNonCanonicalEncoding, InputMalformed},
	{ErrTokenDecodeFailed, InputMalformed},
	{ErrInvalidTokenRequest, InputMalformed},
	{ErrInvalidChallenge, InputMalformed},
	{ErrChallengeDigestMismatch, ProtocolIntegrityFailure},
	{ErrKeyIDNotFound, ProtocolIntegrityFailure},
	{ErrIssueTokenResponseFailed, ProtocolIntegrityFailure},
	{ErrKeypairCreationFailed, KeyManagementFailure},
	{ErrKeyDerivationFailed, KeyManagementFailure},
}

// KindOf returns the kind of err, Internal when it is not one of ours.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return Internal
}
