package typeF91A

import (
	"golang.org/x/crypto/cryptobyte"
)

//	struct {
//	    EvaluatedElement evaluated_elements<Ne..2^16-1>;
//	    uint8_t evaluated_proof[Ns + Ns];
//	} TokenResponse;
//
// A response to an empty (fully truncated) request carries neither elements
// nor a proof.
type BatchedPrivateTokenResponse struct {
	EvaluatedElements [][]byte
	Proof             []byte
}

// Nr returns the number of evaluated elements.
func (r BatchedPrivateTokenResponse) Nr() int {
	return len(r.EvaluatedElements)
}

func (r BatchedPrivateTokenResponse) Marshal() []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for i := 0; i < len(r.EvaluatedElements); i++ {
			b.AddBytes(r.EvaluatedElements[i])
		}
	})
	if len(r.EvaluatedElements) > 0 {
		b.AddBytes(r.Proof)
	}
	return b.BytesOrPanic()
}

func UnmarshalBatchedPrivateTokenResponse(data []byte) (*BatchedPrivateTokenResponse, error) {
	s := cryptobyte.String(data)

	var encodedElements cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&encodedElements) || len(encodedElements)%ElementLength != 0 {
		return nil, ErrInvalidTokenResponseEncoding
	}

	numElements := len(encodedElements) / ElementLength
	resp := &BatchedPrivateTokenResponse{
		EvaluatedElements: make([][]byte, numElements),
	}
	for i := 0; i < numElements; i++ {
		resp.EvaluatedElements[i] = make([]byte, ElementLength)
		copy(resp.EvaluatedElements[i], encodedElements[i*ElementLength:])
	}

	if numElements > 0 {
		var proof []byte
		if !s.ReadBytes(&proof, ProofLength) {
			return nil, ErrInvalidTokenResponseEncoding
		}
		resp.Proof = make([]byte, ProofLength)
		copy(resp.Proof, proof)
	}
	if !s.Empty() {
		return nil, ErrInvalidTokenResponseEncoding
	}

	return resp, nil
}
