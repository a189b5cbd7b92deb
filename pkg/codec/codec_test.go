package codec

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func randomHeader() Header {
	var h Header
	copy(h.DH[:], randomBytes(32))
	h.PN = 7
	h.N = 42
	return h
}

func TestRoundTrip(t *testing.T) {
	a := assert.New(t)

	sig := randomBytes(sigSize)
	header := randomHeader()
	ciphertext := randomBytes(128)

	packaged, err := Package(sig, header, ciphertext)
	a.NoError(err)

	gotSig, gotHeader, gotCT, err := Parse(packaged)
	a.NoError(err)
	a.Equal(sig, gotSig)
	a.Equal(header, gotHeader)
	a.Equal(ciphertext, gotCT)
}

func TestRoundTripEmptyCiphertext(t *testing.T) {
	a := assert.New(t)
	sig := randomBytes(sigSize)
	header := randomHeader()

	packaged, err := Package(sig, header, nil)
	a.NoError(err)
	a.Len(packaged, MinPayloadSize)

	_, _, ct, err := Parse(packaged)
	a.NoError(err)
	a.Empty(ct)
}

func TestPackageRejectsBadSignatureLength(t *testing.T) {
	_, err := Package(randomBytes(10), randomHeader(), randomBytes(8))
	assert.Error(t, err)
}

func TestParseRejectsShortPayload(t *testing.T) {
	for _, n := range []int{0, 1, MinPayloadSize - 1} {
		_, _, _, err := Parse(randomBytes(n))
		assert.Errorf(t, err, "payload of length %d should be rejected", n)
	}
}

func TestParseRejectsWrongVersion(t *testing.T) {
	payload := randomBytes(MinPayloadSize + 16)
	payload[0] = 0x02
	_, _, _, err := Parse(payload)
	assert.Error(t, err)
}

func TestHeaderBytesFixedWidth(t *testing.T) {
	h := randomHeader()
	assert.Len(t, h.HeaderBytes(), 40)
}
