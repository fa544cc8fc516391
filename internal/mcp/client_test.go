package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// testClient wires a client to canned peer output without a process.
// responses arrive as newline-delimited JSON-RPC frames, all readable in
// one fill, the way an eager peer flushes them.
func testClient(responses ...string) (*Client, *bytes.Buffer) {
	var sent bytes.Buffer
	reader := strings.NewReader(strings.Join(responses, "\n") + "\n")

	c := NewClient(nil, nil)
	c.stdin = nopWriteCloser{&sent}
	c.scanner = newResponseScanner(reader)
	return c, &sent
}

func TestCallLocked_ConsecutiveCallsKeepBufferedResponses(t *testing.T) {
	c, sent := testClient(
		`{"jsonrpc":"2.0","id":1,"result":{"value":"first"}}`,
		`{"jsonrpc":"2.0","id":2,"result":{"value":"second"}}`,
	)

	// Both frames sit in the scanner's buffer after the first read; the
	// second call must still see its response
	first, err := c.callLocked("tools/list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"first"}`, string(first))

	second, err := c.callLocked("tools/list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"second"}`, string(second))

	// Request ids increment per call
	frames := strings.Split(strings.TrimSpace(sent.String()), "\n")
	require.Len(t, frames, 2)
	assert.Contains(t, frames[0], `"id":1`)
	assert.Contains(t, frames[1], `"id":2`)
}

func TestCallLocked_PeerError(t *testing.T) {
	c, _ := testClient(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)

	_, err := c.callLocked("tools/unknown", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestCallLocked_NotStarted(t *testing.T) {
	c := NewClient(nil, nil)
	_, err := c.callLocked("tools/list", nil)
	assert.Error(t, err)
}

func TestListTools(t *testing.T) {
	c, _ := testClient(
		`{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"search","description":"Search the literature","inputSchema":{"type":"object"}}]}}`,
	)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)
	assert.Equal(t, "Search the literature", tools[0].Description)
	assert.Equal(t, "object", tools[0].InputSchema["type"])
}

func TestCallTool_FlattensContentBlocks(t *testing.T) {
	c, sent := testClient(
		`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}],"isError":false}}`,
	)

	content, isError, err := c.CallTool(context.Background(), "search", json.RawMessage(`{"query":"llm"}`))
	require.NoError(t, err)
	assert.False(t, isError)
	assert.Equal(t, "line one\nline two", content)
	assert.Contains(t, sent.String(), `"name":"search"`)
}

func TestCallTool_PeerReportedError(t *testing.T) {
	c, _ := testClient(
		`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"index unavailable"}],"isError":true}}`,
	)

	content, isError, err := c.CallTool(context.Background(), "search", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, isError)
	assert.Equal(t, "index unavailable", content)
}
