package tokens

type TokenRequest interface {
	Marshal() []byte
	Unmarshal(data []byte) bool
	Type() uint16
	TruncatedTokenKeyID() uint8
}
