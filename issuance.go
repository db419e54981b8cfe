package privacypass

import (
	"context"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/kagisearch/privacypass-lib/internal/instrument"
	"github.com/kagisearch/privacypass-lib/keystore"
	"github.com/kagisearch/privacypass-lib/log"
	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
	"github.com/kagisearch/privacypass-lib/voprf"
)

// ResponseBuilder blindly evaluates token requests. Issue and IssueTruncated
// are the two request size policies; pick one per call site.
type ResponseBuilder struct {
	engine voprf.Engine
	keys   keystore.KeyStore
	log    *logging.Logger
}

// NewResponseBuilder returns a ResponseBuilder loading keys into keys. A nil
// logger discards output.
func NewResponseBuilder(engine voprf.Engine, keys keystore.KeyStore, logger *logging.Logger) *ResponseBuilder {
	if logger == nil {
		logger = log.NewDiscard("issuance")
	}
	return &ResponseBuilder{
		engine: engine,
		keys:   keys,
		log:    logger,
	}
}

// Issue evaluates req, refusing with a *TooManyTokensError when it holds
// more than maxElements blinded elements. No key or engine work happens for
// a refused request.
func (b *ResponseBuilder) Issue(ctx context.Context, secretKey []byte, req *typeF91A.BatchedPrivateTokenRequest, maxElements int) (*typeF91A.BatchedPrivateTokenResponse, error) {
	if maxElements < 0 {
		maxElements = 0
	}
	if req.Nr() > maxElements {
		instrument.Rejected()
		b.log.Noticef("Rejecting TokenRequest with %d elements, max is %d", req.Nr(), maxElements)
		return nil, &TooManyTokensError{
			Requested: req.Nr(),
			Max:       maxElements,
		}
	}
	return b.issue(ctx, secretKey, req)
}

// IssueTruncated evaluates the first maxElements blinded elements of req
// and silently drops the rest.
func (b *ResponseBuilder) IssueTruncated(ctx context.Context, secretKey []byte, req *typeF91A.BatchedPrivateTokenRequest, maxElements int) (*typeF91A.BatchedPrivateTokenResponse, error) {
	governed := Govern(req, maxElements)
	if dropped := req.Nr() - governed.Nr(); dropped > 0 {
		instrument.Truncated(dropped)
		b.log.Noticef("TokenRequest was truncated to %d elements", governed.Nr())
	}
	return b.issue(ctx, secretKey, governed)
}

func (b *ResponseBuilder) issue(ctx context.Context, secretKey []byte, req *typeF91A.BatchedPrivateTokenRequest) (*typeF91A.BatchedPrivateTokenResponse, error) {
	pk, err := b.keys.Set(ctx, secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeypairCreationFailed, err)
	}
	keyID, err := keystore.TokenKeyID(pk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeypairCreationFailed, err)
	}

	// Only the supplied key signs, whatever else the store holds.
	if req.TruncatedTokenKeyID() != keystore.TruncatedKeyID(keyID) {
		return nil, fmt.Errorf("%w: %w", ErrIssueTokenResponseFailed, ErrKeyIDNotFound)
	}
	key, err := keystore.ParseSecretKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeypairCreationFailed, err)
	}

	resp := &typeF91A.BatchedPrivateTokenResponse{}
	if req.Nr() == 0 {
		b.log.Debug("Issuing empty TokenResponse")
		return resp, nil
	}

	evaluation, err := b.engine.BlindEvaluate(key, req.BlindedReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssueTokenResponseFailed, err)
	}
	if len(evaluation.Elements) != req.Nr() {
		return nil, fmt.Errorf("%w: %d evaluations for %d elements", ErrIssueTokenResponseFailed, len(evaluation.Elements), req.Nr())
	}
	resp.EvaluatedElements = evaluation.Elements
	resp.Proof = evaluation.Proof

	instrument.Issued(resp.Nr())
	b.log.Debugf("Issued TokenResponse with %d evaluations", resp.Nr())
	return resp, nil
}
