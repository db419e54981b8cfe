package privacypass

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/kagisearch/privacypass-lib/keystore"
	"github.com/kagisearch/privacypass-lib/log"
	"github.com/kagisearch/privacypass-lib/noncestore"
	"github.com/kagisearch/privacypass-lib/tokens"
	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
	"github.com/kagisearch/privacypass-lib/voprf"
)

// Server exposes the issuer operations over their transport encodings:
// every key, challenge, request, response and token is URL-safe padded
// base64. Methods never panic; a recovered panic is reported as
// ErrInternal.
type Server struct {
	issuer   *Issuer
	builder  *ResponseBuilder
	redeemer *Redeemer

	log *logging.Logger
}

type serverOptions struct {
	engine  voprf.Engine
	rand    io.Reader
	backend *log.Backend
}

type Option func(*serverOptions)

// WithEngine replaces the circl VOPRF engine.
func WithEngine(engine voprf.Engine) Option {
	return func(o *serverOptions) {
		o.engine = engine
	}
}

// WithRandom sets the randomness used for key generation.
func WithRandom(r io.Reader) Option {
	return func(o *serverOptions) {
		o.rand = r
	}
}

// WithLogBackend routes the server's logs to backend.
func WithLogBackend(backend *log.Backend) Option {
	return func(o *serverOptions) {
		o.backend = backend
	}
}

// NewServer returns a Server over long lived key and nonce stores.
func NewServer(keys keystore.KeyStore, nonces noncestore.NonceStore, opts ...Option) *Server {
	o := &serverOptions{
		engine: voprf.NewEngine(),
	}
	for _, opt := range opts {
		opt(o)
	}

	getLogger := log.NewDiscard
	if o.backend != nil {
		getLogger = o.backend.GetLogger
	}

	return &Server{
		issuer:   NewIssuer(o.engine, o.rand),
		builder:  NewResponseBuilder(o.engine, keys, getLogger("issuance")),
		redeemer: NewRedeemer(o.engine, keys, nonces, getLogger("redemption")),
		log:      getLogger("server"),
	}
}

func (s *Server) recoverPanic(op string, err *error) {
	if r := recover(); r != nil {
		s.log.Errorf("%s: recovered panic: %v", op, r)
		*err = fmt.Errorf("%w: %v", ErrInternal, r)
	}
}

// GenerateKeypair creates a new issuer keypair.
func (s *Server) GenerateKeypair() (kp Keypair, err error) {
	defer s.recoverPanic("GenerateKeypair", &err)

	kp, err = s.issuer.GenerateKeypair()
	if err != nil {
		return Keypair{}, err
	}
	s.log.Notice("Generated issuer keypair")
	return kp, nil
}

// BuildChallenge returns the encoded challenge for issuerName and
// originInfo, with no redemption context.
func (s *Server) BuildChallenge(issuerName string, originInfo []string) (challenge string, err error) {
	defer s.recoverPanic("BuildChallenge", &err)

	challenge, err = s.issuer.BuildChallenge(issuerName, originInfo, nil).Base64()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	return challenge, nil
}

// BuildAuthHeader returns the WWW-Authenticate header value for an encoded
// challenge and public key.
func (s *Server) BuildAuthHeader(challenge string, publicKey string, maxAge time.Duration) (header string, err error) {
	defer s.recoverPanic("BuildAuthHeader", &err)

	tc, err := tokens.UnmarshalTokenChallengeBase64(challenge)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	pk, err := decode(publicKey)
	if err != nil {
		return "", err
	}
	return s.issuer.BuildAuthHeader(tc, pk, maxAge)
}

// IssueResponse evaluates an encoded token request, silently truncating it
// to maxElements blinded elements.
func (s *Server) IssueResponse(ctx context.Context, secretKey string, tokenRequest string, maxElements int) (response string, err error) {
	defer s.recoverPanic("IssueResponse", &err)

	return s.issueResponse(ctx, secretKey, tokenRequest, maxElements, s.builder.IssueTruncated)
}

// IssueResponseStrict evaluates an encoded token request, refusing it when
// it holds more than maxElements blinded elements.
func (s *Server) IssueResponseStrict(ctx context.Context, secretKey string, tokenRequest string, maxElements int) (response string, err error) {
	defer s.recoverPanic("IssueResponseStrict", &err)

	return s.issueResponse(ctx, secretKey, tokenRequest, maxElements, s.builder.Issue)
}

type issueFunc func(context.Context, []byte, *typeF91A.BatchedPrivateTokenRequest, int) (*typeF91A.BatchedPrivateTokenResponse, error)

func (s *Server) issueResponse(ctx context.Context, secretKey string, tokenRequest string, maxElements int, issue issueFunc) (string, error) {
	sk, err := decode(secretKey)
	if err != nil {
		return "", err
	}
	reqEnc, err := decode(tokenRequest)
	if err != nil {
		return "", err
	}
	req, err := typeF91A.UnmarshalBatchedPrivateTokenRequest(reqEnc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTokenRequest, err)
	}

	resp, err := issue(ctx, sk, req, maxElements)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(resp.Marshal()), nil
}

// ValidateToken validates an encoded token against an encoded challenge.
// It returns false, without error, for a token that fails verification.
func (s *Server) ValidateToken(ctx context.Context, secretKey string, token string, challenge string) (valid bool, err error) {
	defer s.recoverPanic("ValidateToken", &err)

	sk, err := decode(secretKey)
	if err != nil {
		return false, err
	}
	tc, err := tokens.UnmarshalTokenChallengeBase64(challenge)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	return s.redeemer.ValidateEncoded(ctx, token, sk, tc)
}

func decode(s string) ([]byte, error) {
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return b, nil
}
