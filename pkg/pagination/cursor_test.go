package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := Cursor{
		Wid: "wb-1",
		S:   "Sheet1",
		R:   "A1:D50",
		U:   UnitRows,
		Off: 20,
		Ps:  10,
		Wbv: 3,
	}
	tok, err := Encode(c)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	got, err := Decode(tok)
	require.NoError(t, err)
	require.Equal(t, "wb-1", got.Wid)
	require.Equal(t, "Sheet1", got.S)
	require.Equal(t, "A1:D50", got.R)
	require.Equal(t, UnitRows, got.U)
	require.Equal(t, 20, got.Off)
	require.Equal(t, 10, got.Ps)
	require.Equal(t, int64(3), got.Wbv)
	require.NotZero(t, got.Iat)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("")
	require.Error(t, err)

	_, err = Decode("not@base64!")
	require.Error(t, err)

	// Valid base64 but not a cursor.
	_, err = Decode("eyJmb28iOiJiYXIifQ")
	require.Error(t, err)
}

func TestValidateRequiresFields(t *testing.T) {
	_, err := Encode(Cursor{S: "Sheet1", R: "A1:B2", U: UnitRows, Ps: 5})
	require.Error(t, err)

	_, err = Encode(Cursor{Wid: "wb", R: "A1:B2", U: UnitRows, Ps: 5})
	require.Error(t, err)

	_, err = Encode(Cursor{Wid: "wb", S: "Sheet1", R: "A1:B2", U: "pages", Ps: 5})
	require.Error(t, err)
}

func TestNextOffset(t *testing.T) {
	require.Equal(t, 30, NextOffset(20, 10))
	require.Equal(t, 20, NextOffset(20, 0))
	require.Equal(t, 5, NextOffset(-1, 5))
}
