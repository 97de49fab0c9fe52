package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telemtx/mtproto/mtperrors"
)

func allTransports() map[string]Transport {
	return map[string]Transport{
		"full":         NewFull(),
		"intermediate": NewIntermediate(),
		"abridged":     NewAbridged(),
	}
}

func TestRoundTripAndPrefixes(t *testing.T) {
	messages := [][]byte{
		{},
		[]byte("once upon"), // not word aligned; padded below
	}
	for name, tr := range allTransports() {
		t.Run(name, func(t *testing.T) {
			for _, m := range messages {
				payload := m
				if len(payload)%4 != 0 {
					payload = append(append([]byte{}, payload...), make([]byte, 4-len(payload)%4)...)
				}
				frame := tr.Pack(nil, payload)

				n, got, err := tr.Unpack(frame)
				require.NoError(t, err)
				require.Equal(t, len(frame), n)
				require.Equal(t, payload, got)

				for k := 0; k < len(frame); k++ {
					_, _, err := tr.Unpack(frame[:k])
					var missing *mtperrors.MissingBytesError
					require.ErrorAs(t, err, &missing)
					require.Equal(t, len(frame)-k, missing.N)
				}
			}
		})
	}
}

func TestFullBadCRC(t *testing.T) {
	f := NewFull()
	frame := f.Pack(nil, []byte("1234"))
	frame[len(frame)-1] ^= 0xff
	_, _, err := f.Unpack(frame)
	require.Error(t, err)
}

func TestFullBadStatus(t *testing.T) {
	f := NewFull()
	frame := make([]byte, 4)
	// -404 encoded little-endian as a negative length prefix.
	frame[0], frame[1], frame[2], frame[3] = 0x6c, 0xfe, 0xff, 0xff
	_, _, err := f.Unpack(frame)
	var bad *mtperrors.BadStatusError
	require.ErrorAs(t, err, &bad)
	require.EqualValues(t, -404, bad.Code)
}
