package testing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandString(t *testing.T) {
	s := RandString()
	require.Len(t, s, 10)
	for _, r := range s {
		require.True(t, strings.ContainsRune(charSet, r))
	}
}

func TestRandEmail(t *testing.T) {
	e := RandEmail()
	require.True(t, strings.HasSuffix(e, "@bygg.test"))
	require.Equal(t, strings.ToLower(e), e)
}

func TestPtr(t *testing.T) {
	p := Ptr("x")
	require.Equal(t, "x", *p)
}
