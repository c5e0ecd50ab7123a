package rpc

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"a":1}`)))
	require.NoError(t, WriteFrame(&buf, []byte(`{"b":2}`)))
	assert.True(t, strings.HasPrefix(buf.String(), "Content-Length: 7\r\n\r\n"))

	r := bufio.NewReader(&buf)
	first, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(first))
	second, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(second))

	_, err = ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_Headers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"extra header", "Content-Type: application/json\r\nContent-Length: 2\r\n\r\n{}", "{}", false},
		{"lower case", "content-length: 2\n\n{}", "{}", false},
		{"leading blank line", "\r\nContent-Length: 2\r\n\r\n{}", "{}", false},
		{"bad length", "Content-Length: x\r\n\r\n{}", "", true},
		{"negative length", "Content-Length: -1\r\n\r\n", "", true},
		{"too large", "Content-Length: 999999999\r\n\r\n", "", true},
		{"short body", "Content-Length: 10\r\n\r\n{}", "", true},
		{"truncated header", "Content-Length: 2", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadFrame(bufio.NewReader(strings.NewReader(tt.input)))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestEnvelopeKinds(t *testing.T) {
	assert.True(t, envelope{}.isResponse())
	assert.True(t, envelope{Method: "send"}.isNotification())
	assert.True(t, envelope{Method: "send", ID: []byte("null")}.isNotification())
	assert.False(t, envelope{Method: "send", ID: []byte("1")}.isNotification())
}
