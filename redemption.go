package privacypass

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/kagisearch/privacypass-lib/internal/instrument"
	"github.com/kagisearch/privacypass-lib/keystore"
	"github.com/kagisearch/privacypass-lib/log"
	"github.com/kagisearch/privacypass-lib/noncestore"
	"github.com/kagisearch/privacypass-lib/tokens"
	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
	"github.com/kagisearch/privacypass-lib/voprf"
)

// Redeemer validates tokens presented by clients. Spent nonces are recorded
// in the NonceStore, which must outlive a single validation for double
// spending to be detected.
type Redeemer struct {
	engine voprf.Engine
	keys   keystore.KeyStore
	nonces noncestore.NonceStore
	log    *logging.Logger
}

// NewRedeemer returns a Redeemer. A nil logger discards output.
func NewRedeemer(engine voprf.Engine, keys keystore.KeyStore, nonces noncestore.NonceStore, logger *logging.Logger) *Redeemer {
	if logger == nil {
		logger = log.NewDiscard("redemption")
	}
	return &Redeemer{
		engine: engine,
		keys:   keys,
		nonces: nonces,
		log:    logger,
	}
}

// ValidateEncoded validates a token in its URL-safe base64 transport form.
// Only the canonical encoding of the token bytes is accepted, so a token
// cannot be presented under more than one representation.
func (r *Redeemer) ValidateEncoded(ctx context.Context, encodedToken string, secretKey []byte, challenge tokens.TokenChallenge) (bool, error) {
	token, err := base64.URLEncoding.DecodeString(encodedToken)
	if err != nil {
		return r.done(false, fmt.Errorf("%w: %v", ErrInvalidEncoding, err))
	}
	if len(token) != typeF91A.TokenSize {
		return r.done(false, &WrongTokenSizeError{Size: len(token)})
	}
	if base64.URLEncoding.EncodeToString(token) != encodedToken {
		return r.done(false, ErrNonCanonicalEncoding)
	}
	return r.done(r.validate(ctx, token, secretKey, challenge))
}

// Validate validates raw token bytes. It returns false, without error, for
// a well formed token that fails cryptographic verification.
func (r *Redeemer) Validate(ctx context.Context, token []byte, secretKey []byte, challenge tokens.TokenChallenge) (bool, error) {
	if len(token) != typeF91A.TokenSize {
		return r.done(false, &WrongTokenSizeError{Size: len(token)})
	}
	return r.done(r.validate(ctx, token, secretKey, challenge))
}

func (r *Redeemer) validate(ctx context.Context, tokenEnc []byte, secretKey []byte, challenge tokens.TokenChallenge) (bool, error) {
	pk, err := r.keys.Set(ctx, secretKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeypairCreationFailed, err)
	}
	keyID, err := keystore.TokenKeyID(pk)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeypairCreationFailed, err)
	}

	token, err := typeF91A.UnmarshalBatchedPrivateToken(tokenEnc)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTokenDecodeFailed, err)
	}

	digest, err := challenge.Digest()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	if subtle.ConstantTimeCompare(token.Context, digest) != 1 {
		return false, ErrChallengeDigestMismatch
	}

	// Tokens of other stored keys are not accepted under this key.
	if !bytes.Equal(token.KeyID, keyID) {
		return false, ErrKeyIDNotFound
	}

	err = r.engine.Redeem(ctx, r.keys, r.nonces, token)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, voprf.ErrInvalidToken):
		return false, nil
	case errors.Is(err, voprf.ErrDoubleSpending):
		return false, ErrDoubleSpent
	case errors.Is(err, voprf.ErrKeyIDNotFound):
		return false, ErrKeyIDNotFound
	default:
		return false, fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

func (r *Redeemer) done(valid bool, err error) (bool, error) {
	switch {
	case err != nil:
		kind := KindOf(err)
		instrument.Validation(kind.String())
		if kind == DoubleSpend || kind == Internal {
			r.log.Warningf("Token rejected: %v", err)
		} else {
			r.log.Debugf("Token rejected: %v", err)
		}
	case valid:
		instrument.Validation("valid")
	default:
		instrument.Validation("invalid")
		r.log.Debug("Token failed verification")
	}
	return valid, err
}
