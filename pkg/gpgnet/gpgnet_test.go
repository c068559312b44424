package gpgnet

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"math"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

func TestCodecGameState(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, structs.GPGNetMessage{Header: "GameState", Chunks: []any{"Lobby"}}))

	msg, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "GameState", msg.Header)
	assert.Equal(t, []any{"Lobby"}, msg.Chunks)
}

func TestCodecWireLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, structs.GPGNetMessage{Header: "A", Chunks: []any{float64(7), "b"}}))

	expected := []byte{
		1, 0, 0, 0, 'A', // header
		2, 0, 0, 0, // chunk count
		0, 7, 0, 0, 0, // int chunk
		1, 1, 0, 0, 0, 'b', // string chunk
	}
	assert.Equal(t, expected, buf.Bytes())
}

func TestCodecRejectsUnsupportedChunks(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteMessage(&buf, structs.GPGNetMessage{Header: "X", Chunks: []any{1.5}}), ErrChunkType)
	assert.ErrorIs(t, WriteMessage(&buf, structs.GPGNetMessage{Header: "X", Chunks: []any{[]string{"a"}}}), ErrChunkType)
	assert.Zero(t, buf.Len())
}

func TestCodecRejectsOutOfRangeIntegers(t *testing.T) {
	var buf bytes.Buffer
	for _, chunk := range []any{float64(4294967297), float64(math.MinInt32) - 1, int64(math.MaxInt32) + 1, int64(-1 << 40)} {
		err := WriteMessage(&buf, structs.GPGNetMessage{Header: "X", Chunks: []any{chunk}})
		assert.ErrorIs(t, err, ErrChunkType, "chunk %v", chunk)
	}
	assert.Zero(t, buf.Len())

	require.NoError(t, WriteMessage(&buf, structs.GPGNetMessage{Header: "X", Chunks: []any{float64(math.MaxInt32), int64(math.MinInt32)}}))
	msg, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, []any{int32(math.MaxInt32), int32(math.MinInt32)}, msg.Chunks)
}

func TestCodecRejectsUnknownTag(t *testing.T) {
	raw := []byte{1, 0, 0, 0, 'A', 1, 0, 0, 0, 9}
	_, err := ReadMessage(bufio.NewReader(bytes.NewReader(raw)))
	assert.ErrorIs(t, err, ErrChunkType)
}

type recordingHandler struct {
	messages chan structs.GPGNetMessage
	states   chan structs.ConnectionState
}

func (h *recordingHandler) OnGPGNetMessage(msg structs.GPGNetMessage) {
	h.messages <- msg
}

func (h *recordingHandler) OnGPGNetConnectionChanged(state structs.ConnectionState) {
	h.states <- state
}

func TestServerExchangesMessages(t *testing.T) {
	s, err := Listen(0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &recordingHandler{messages: make(chan structs.GPGNetMessage, 8), states: make(chan structs.ConnectionState, 8)}
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, handler) }()

	conn, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.ListenPort())))
	require.NoError(t, err)

	require.Equal(t, structs.Connected, <-handler.states)
	assert.Equal(t, 1, s.SessionCount())

	require.NoError(t, WriteMessage(conn, structs.GPGNetMessage{Header: "GameState", Chunks: []any{"Idle"}}))
	select {
	case msg := <-handler.messages:
		assert.Equal(t, "GameState", msg.Header)
		assert.Equal(t, []any{"Idle"}, msg.Chunks)
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the handler")
	}

	require.NoError(t, s.SendJoinGame("127.0.0.1:6000", "PlayerX", 42))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msg, err := ReadMessage(bufio.NewReader(conn))
	require.NoError(t, err)
	assert.Equal(t, "JoinGame", msg.Header)
	assert.Equal(t, []any{"127.0.0.1:6000", "PlayerX", int32(42)}, msg.Chunks)

	require.NoError(t, conn.Close())
	require.Equal(t, structs.Disconnected, <-handler.states)
	assert.Equal(t, 0, s.SessionCount())

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStalledGameDoesNotBlockSends(t *testing.T) {
	s, err := Listen(0)
	require.NoError(t, err)
	defer s.Close()
	s.writeTimeout = 50 * time.Millisecond

	// The other end of the pipe never reads.
	local, remote := net.Pipe()
	defer remote.Close()
	s.sessions["stalled"] = &session{ID: "stalled", Conn: local}

	sent := make(chan error, 1)
	go func() { sent <- s.SendHostGame("map1") }()

	select {
	case err := <-sent:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send blocked on a stalled game")
	}

	// The stalled connection was dropped.
	_, err = remote.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}
