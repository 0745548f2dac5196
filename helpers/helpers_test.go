package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{"30s", 30 * time.Second},
		{"2m", 2 * time.Minute},
		{"14d", 14 * 24 * time.Hour},
		{"1d12h", 36 * time.Hour},
		{" 0d ", 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := ParseDuration(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestParseDurationInvalid(t *testing.T) {
	for _, input := range []string{"", "abc", "xd", "-1d", "1dfoo", "10"} {
		_, err := ParseDuration(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("Subject: hi\r\n\r\nbody\r\n"))
	b := HashContent([]byte("Subject: hi\r\n\r\nbody\r\n"))
	c := HashContent([]byte("Subject: hi\r\n\r\nother\r\n"))

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", HashContent(nil))
}

func TestNewS3Key(t *testing.T) {
	assert.Equal(t, "example.com/bob/abc", NewS3Key("Bob@Example.com", "abc"))

	local, domain := SplitEmailAddress("nodomain")
	assert.Equal(t, "nodomain", local)
	assert.Equal(t, "", domain)
}
