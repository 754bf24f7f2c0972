package apikey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/authgrid/pkg/auth"
)

func TestParseBearer(t *testing.T) {
	short, long, err := ParseBearer("Bearer ag_live_abc123_def456", "live")
	require.NoError(t, err)
	assert.Equal(t, "abc123", short)
	assert.Equal(t, "def456", long)

	// Bare credentials without the Bearer prefix parse too.
	short, long, err = ParseBearer("ag_live_abc123_def456", "live")
	require.NoError(t, err)
	assert.Equal(t, "abc123", short)
	assert.Equal(t, "def456", long)
}

func TestParseBearer_Malformed(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"three segments", "ag_live_abc123"},
		{"five segments", "ag_live_abc_def_extra"},
		{"wrong prefix", "xx_live_abc123_def456"},
		{"wrong environment", "ag_test_abc123_def456"},
		{"empty short token", "ag_live__def456"},
		{"empty long token", "ag_live_abc123_"},
		{"a jwt", "Bearer eyJhbGciOiJIUzI1NiJ9.payload.sig"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseBearer(tc.header, "live")
			assert.ErrorIs(t, err, auth.ErrMalformedKey)
		})
	}
}
