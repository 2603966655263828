package relaychat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStompFrame(t *testing.T) {
	t.Run("connected frame", func(t *testing.T) {
		f, err := parseStompFrame([]byte("CONNECTED\nversion:1.2\nheart-beat:0,0\n\n\x00"))
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, "CONNECTED", f.command)
		assert.Equal(t, "1.2", f.headers["version"])
		assert.Empty(t, f.body)
	})

	t.Run("message frame with json body", func(t *testing.T) {
		raw := []byte("MESSAGE\nsubscription:sub-1\ndestination:/user/alice/queue/messages\n\n{\"id\":7}\x00")
		f, err := parseStompFrame(raw)
		require.NoError(t, err)
		assert.Equal(t, "MESSAGE", f.command)
		assert.Equal(t, "sub-1", f.headers["subscription"])
		assert.Equal(t, `{"id":7}`, string(f.body))
	})

	t.Run("crlf line endings", func(t *testing.T) {
		f, err := parseStompFrame([]byte("MESSAGE\r\ndestination:/queue/x\r\n\r\nbody\x00"))
		require.NoError(t, err)
		assert.Equal(t, "MESSAGE", f.command)
		assert.Equal(t, "/queue/x", f.headers["destination"])
		assert.Equal(t, "body", string(f.body))
	})

	t.Run("heartbeat decodes to nil", func(t *testing.T) {
		for _, raw := range []string{"\n", "\r\n", ""} {
			f, err := parseStompFrame([]byte(raw))
			require.NoError(t, err)
			assert.Nil(t, f)
		}
	})

	t.Run("repeated header keeps first occurrence", func(t *testing.T) {
		f, err := parseStompFrame([]byte("MESSAGE\nfoo:first\nfoo:second\n\n\x00"))
		require.NoError(t, err)
		assert.Equal(t, "first", f.headers["foo"])
	})

	t.Run("escaped header values", func(t *testing.T) {
		f, err := parseStompFrame([]byte("MESSAGE\nnote:a\\cb\\nc\\\\d\n\n\x00"))
		require.NoError(t, err)
		assert.Equal(t, "a:b\nc\\d", f.headers["note"])
	})

	t.Run("missing header terminator", func(t *testing.T) {
		_, err := parseStompFrame([]byte("MESSAGE\nfoo:bar\x00"))
		assert.Error(t, err)
	})

	t.Run("header line without separator", func(t *testing.T) {
		_, err := parseStompFrame([]byte("MESSAGE\nnocolon\n\n\x00"))
		assert.Error(t, err)
	})
}

func TestStompFrameEncode(t *testing.T) {
	t.Run("round trip with special characters", func(t *testing.T) {
		in := &stompFrame{
			command: "SEND",
			headers: map[string]string{
				"destination":  "/app/chat.send",
				"content-type": "application/json",
				"note":         "colons: and\nnewlines",
			},
			body: []byte(`{"content":"hello"}`),
		}

		out, err := parseStompFrame(in.encode())
		require.NoError(t, err)
		assert.Equal(t, in.command, out.command)
		assert.Equal(t, in.headers, out.headers)
		assert.Equal(t, in.body, out.body)
	})

	t.Run("terminates with nul", func(t *testing.T) {
		f := &stompFrame{command: "DISCONNECT", headers: map[string]string{}}
		raw := f.encode()
		assert.Equal(t, byte(0), raw[len(raw)-1])
	})
}

func TestNewSTOMPTransport(t *testing.T) {
	cases := []struct {
		baseURL string
		want    string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://chat.example.com", "wss://chat.example.com/ws"},
		{"http://localhost:8080/", "ws://localhost:8080/ws"},
	}
	for _, tc := range cases {
		tr, ok := NewSTOMPTransport(tc.baseURL).(*stompTransport)
		require.True(t, ok)
		assert.Equal(t, tc.want, tr.url)
	}
}
