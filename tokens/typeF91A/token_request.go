package typeF91A

import (
	"bytes"

	"golang.org/x/crypto/cryptobyte"

	"github.com/kagisearch/privacypass-lib/tokens"
)

var (
	BatchedPrivateTokenType = uint16(0xF91A)
)

// ElementLength is the size of a compressed ristretto255 element (Ne).
const ElementLength = 32

//	struct {
//	    uint16_t token_type = 0xF91A;
//	    uint8_t truncated_token_key_id;
//	    BlindedElement blinded_elements<Ne..2^16-1>;
//	} TokenRequest;
type BatchedPrivateTokenRequest struct {
	raw        []byte
	TokenKeyID uint8
	BlindedReq [][]byte
}

var _ tokens.TokenRequest = (*BatchedPrivateTokenRequest)(nil)

func (r BatchedPrivateTokenRequest) Type() uint16 {
	return BatchedPrivateTokenType
}

func (r BatchedPrivateTokenRequest) TruncatedTokenKeyID() uint8 {
	return r.TokenKeyID
}

// Nr returns the number of blinded elements in the request.
func (r BatchedPrivateTokenRequest) Nr() int {
	return len(r.BlindedReq)
}

func (r BatchedPrivateTokenRequest) Equal(r2 BatchedPrivateTokenRequest) bool {
	if r.TokenKeyID == r2.TokenKeyID && len(r.BlindedReq) == len(r2.BlindedReq) {
		equal := true
		for i := 0; i < len(r.BlindedReq); i++ {
			if !bytes.Equal(r.BlindedReq[i], r2.BlindedReq[i]) {
				equal = false
				break
			}
		}
		return equal
	}
	return false
}

// Truncate returns a request holding only the first n blinded elements. The
// receiver is never modified; when it already fits, it is returned as is.
func (r *BatchedPrivateTokenRequest) Truncate(n int) *BatchedPrivateTokenRequest {
	if n < 0 {
		n = 0
	}
	if r.Nr() <= n {
		return r
	}

	blinded := make([][]byte, n)
	for i := 0; i < n; i++ {
		blinded[i] = make([]byte, len(r.BlindedReq[i]))
		copy(blinded[i], r.BlindedReq[i])
	}
	return &BatchedPrivateTokenRequest{
		TokenKeyID: r.TokenKeyID,
		BlindedReq: blinded,
	}
}

func (r *BatchedPrivateTokenRequest) Marshal() []byte {
	if r.raw != nil {
		return r.raw
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddUint16(BatchedPrivateTokenType)
	b.AddUint8(r.TokenKeyID)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for i := 0; i < len(r.BlindedReq); i++ {
			b.AddBytes(r.BlindedReq[i])
		}
	})

	r.raw = b.BytesOrPanic()
	return r.raw
}

func (r *BatchedPrivateTokenRequest) Unmarshal(data []byte) bool {
	s := cryptobyte.String(data)

	var tokenType uint16
	if !s.ReadUint16(&tokenType) ||
		tokenType != BatchedPrivateTokenType ||
		!s.ReadUint8(&r.TokenKeyID) {
		return false
	}

	var blindedRequests cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&blindedRequests) || blindedRequests.Empty() || !s.Empty() {
		return false
	}
	if len(blindedRequests)%ElementLength != 0 {
		return false
	}

	elementCount := len(blindedRequests) / ElementLength
	r.BlindedReq = make([][]byte, elementCount)
	for i := 0; i < elementCount; i++ {
		r.BlindedReq[i] = make([]byte, ElementLength)
		copy(r.BlindedReq[i], blindedRequests[(ElementLength*i):])
	}
	r.raw = nil

	return true
}

func UnmarshalBatchedPrivateTokenRequest(data []byte) (*BatchedPrivateTokenRequest, error) {
	r := new(BatchedPrivateTokenRequest)
	if !r.Unmarshal(data) {
		return nil, ErrInvalidTokenRequestEncoding
	}
	return r, nil
}
