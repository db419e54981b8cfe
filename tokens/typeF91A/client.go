package typeF91A

import (
	"crypto/sha256"
	"fmt"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/oprf"
	"github.com/cloudflare/circl/zk/dleq"

	"github.com/kagisearch/privacypass-lib/tokens"
)

// BatchedPrivateClient builds token requests and finalizes issued tokens.
// The server never uses it; it exists for tests and the command line tool.
type BatchedPrivateClient struct {
}

func NewBatchedPrivateClient() BatchedPrivateClient {
	return BatchedPrivateClient{}
}

type BatchedPrivateTokenRequestState struct {
	tokenInputs     [][]byte
	request         *BatchedPrivateTokenRequest
	client          oprf.VerifiableClient
	verificationKey *oprf.PublicKey
	verifier        *oprf.FinalizeData
}

func (s BatchedPrivateTokenRequestState) Request() *BatchedPrivateTokenRequest {
	return s.request
}

// Blinds returns the encoded blinding scalars, in request order.
func (s BatchedPrivateTokenRequestState) Blinds() ([][]byte, error) {
	blinds := s.verifier.CopyBlinds()
	encoded := make([][]byte, len(blinds))
	for i := range blinds {
		enc, err := blinds[i].MarshalBinary()
		if err != nil {
			return nil, err
		}
		encoded[i] = enc
	}
	return encoded, nil
}

// FinalizeTokens verifies the batched proof and unblinds every evaluated
// element. The response must cover all blinded elements of the request.
func (s BatchedPrivateTokenRequestState) FinalizeTokens(tokenResponseEnc []byte) ([]tokens.Token, error) {
	resp, err := UnmarshalBatchedPrivateTokenResponse(tokenResponseEnc)
	if err != nil {
		return nil, err
	}
	if resp.Nr() == 0 || resp.Nr() != len(s.tokenInputs) {
		return nil, fmt.Errorf("invalid batch token response")
	}

	elements := make([]group.Element, resp.Nr())
	for i := range elements {
		elements[i] = group.Ristretto255.NewElement()
		err := elements[i].UnmarshalBinary(resp.EvaluatedElements[i])
		if err != nil {
			return nil, err
		}
	}

	proof := new(dleq.Proof)
	err = proof.UnmarshalBinary(group.Ristretto255, resp.Proof)
	if err != nil {
		return nil, err
	}

	evaluation := &oprf.Evaluation{
		Elements: elements,
		Proof:    proof,
	}
	outputs, err := s.client.Finalize(s.verifier, evaluation)
	if err != nil {
		return nil, err
	}

	result := make([]tokens.Token, len(outputs))
	for i := range outputs {
		tokenData := append(append([]byte{}, s.tokenInputs[i]...), outputs[i]...)
		result[i], err = UnmarshalBatchedPrivateToken(tokenData)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func tokenInputs(challenge []byte, nonces [][]byte, tokenKeyID []byte) [][]byte {
	context := sha256.Sum256(challenge)
	inputs := make([][]byte, len(nonces))
	for i := range nonces {
		token := tokens.Token{
			TokenType:     BatchedPrivateTokenType,
			Nonce:         nonces[i],
			Context:       context[:],
			KeyID:         tokenKeyID,
			Authenticator: nil, // No OPRF computed yet
		}
		inputs[i] = token.AuthenticatorInput()
	}
	return inputs
}

func (c BatchedPrivateClient) newState(inputs [][]byte, tokenKeyID []byte, verificationKey *oprf.PublicKey, client oprf.VerifiableClient, finalizeData *oprf.FinalizeData, evalRequest *oprf.EvaluationRequest) (BatchedPrivateTokenRequestState, error) {
	encodedElements := make([][]byte, len(inputs))
	for i := range inputs {
		encRequest, err := evalRequest.Elements[i].MarshalBinaryCompress()
		if err != nil {
			return BatchedPrivateTokenRequestState{}, err
		}
		encodedElements[i] = encRequest
	}

	request := &BatchedPrivateTokenRequest{
		TokenKeyID: tokenKeyID[len(tokenKeyID)-1],
		BlindedReq: encodedElements,
	}

	return BatchedPrivateTokenRequestState{
		tokenInputs:     inputs,
		request:         request,
		client:          client,
		verificationKey: verificationKey,
		verifier:        finalizeData,
	}, nil
}

// https://datatracker.ietf.org/doc/html/draft-robert-privacypass-batched-tokens-00#name-client-to-issuer-request
func (c BatchedPrivateClient) CreateTokenRequest(challenge []byte, nonces [][]byte, tokenKeyID []byte, verificationKey *oprf.PublicKey) (BatchedPrivateTokenRequestState, error) {
	if len(nonces) == 0 {
		return BatchedPrivateTokenRequestState{}, fmt.Errorf("no nonces")
	}
	client := oprf.NewVerifiableClient(Suite, verificationKey)

	inputs := tokenInputs(challenge, nonces, tokenKeyID)
	finalizeData, evalRequest, err := client.Blind(inputs)
	if err != nil {
		return BatchedPrivateTokenRequestState{}, err
	}

	return c.newState(inputs, tokenKeyID, verificationKey, client, finalizeData, evalRequest)
}

func (c BatchedPrivateClient) CreateTokenRequestWithBlinds(challenge []byte, nonces [][]byte, tokenKeyID []byte, verificationKey *oprf.PublicKey, encodedBlinds [][]byte) (BatchedPrivateTokenRequestState, error) {
	if len(nonces) == 0 || len(nonces) != len(encodedBlinds) {
		return BatchedPrivateTokenRequestState{}, fmt.Errorf("nonce and blind counts differ")
	}
	client := oprf.NewVerifiableClient(Suite, verificationKey)

	inputs := tokenInputs(challenge, nonces, tokenKeyID)
	blinds := make([]oprf.Blind, len(encodedBlinds))
	for i := range encodedBlinds {
		blinds[i] = group.Ristretto255.NewScalar()
		err := blinds[i].UnmarshalBinary(encodedBlinds[i])
		if err != nil {
			return BatchedPrivateTokenRequestState{}, err
		}
	}

	finalizeData, evalRequest, err := client.DeterministicBlind(inputs, blinds)
	if err != nil {
		return BatchedPrivateTokenRequestState{}, err
	}

	return c.newState(inputs, tokenKeyID, verificationKey, client, finalizeData, evalRequest)
}
