package wire

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-cache/internal/dns/domain"
)

func withHeader(body ...byte) []byte {
	return append(make([]byte, domain.HeaderSize), body...)
}

func TestDecodeName(t *testing.T) {
	// 12: com, 17: example -> 12, 27: www -> 17, 33: sentinel
	buf := withHeader(
		3, 'c', 'o', 'm', 0,
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 0xC0, 12,
		3, 'w', 'w', 'w', 0xC0, 17,
		0xFF,
	)

	tests := []struct {
		name     string
		offset   int
		wantName string
		wantNext int
	}{
		{"uncompressed", 12, "com", 17},
		{"single pointer resumes after pointer", 17, "example.com", 27},
		{"nested pointers resume after the first", 27, "www.example.com", 33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, next, err := decodeName(buf, tt.offset)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, got)
			assert.Equal(t, tt.wantNext, next)
		})
	}
}

func TestDecodeName_Root(t *testing.T) {
	got, next, err := decodeName(withHeader(0), 12)
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Equal(t, 13, next)
}

func TestDecodeName_Malformed(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"pointer to itself", withHeader(0xC0, 12)},
		{"pointer forward", withHeader(0xC0, 14, 1, 'a', 0)},
		{"pointer back into its own run", withHeader(1, 'a', 0xC0, 12)},
		{"truncated pointer", withHeader(1, 'a', 0xC0)},
		{"label overruns buffer", withHeader(5, 'a', 'b')},
		{"missing terminator", withHeader(1, 'a')},
		{"reserved label type", withHeader(0x40, 'a', 0)},
		{"offset past end", withHeader()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeName(tt.buf, 12)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMalformedPacket), "got %v", err)
		})
	}
}

func TestDecodeName_TooLong(t *testing.T) {
	label := strings.Repeat("a", 63)
	var body []byte
	for i := 0; i < 5; i++ {
		body = append(body, 63)
		body = append(body, label...)
	}
	body = append(body, 0)

	_, _, err := decodeName(withHeader(body...), 12)
	assert.ErrorIs(t, err, domain.ErrMalformedPacket)
}

func TestCompressor_AppendName(t *testing.T) {
	c := newCompressor()
	buf := make([]byte, domain.HeaderSize)

	buf, err := c.appendName(buf, "a.example.com.")
	require.NoError(t, err)
	assert.Equal(t, withHeader(1, 'a', 7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0), buf)

	start := len(buf)
	buf, err = c.appendName(buf, "b.example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 'b', 0xC0, 14}, buf[start:], "shared suffix becomes a pointer")

	start = len(buf)
	buf, err = c.appendName(buf, "a.example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC0, 12}, buf[start:], "whole known name is a single pointer")

	start = len(buf)
	buf, err = c.appendName(buf, "")
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, buf[start:])
}

func TestCompressor_AppendName_Errors(t *testing.T) {
	c := newCompressor()

	_, err := c.appendName(nil, strings.Repeat("a", 64)+".test")
	assert.ErrorContains(t, err, "label too long")

	_, err = c.appendName(nil, "a..test")
	assert.ErrorContains(t, err, "empty label")

	_, err = c.appendName(nil, strings.Repeat("abcdefg.", 40))
	assert.ErrorContains(t, err, "name too long")
}
