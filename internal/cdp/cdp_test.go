package cdp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPortsScanOutwardFromDefault(t *testing.T) {
	assert.Equal(t, []int{9000, 8999, 9001, 8998, 9002, 8997, 9003}, DefaultPorts())
}

func TestNewConnectorRejectsInvalidPorts(t *testing.T) {
	_, err := NewConnector(Config{Ports: []int{9000, 70000}})
	require.Error(t, err)

	conn, err := NewConnector(Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultHost, conn.host)
	assert.Equal(t, DefaultPorts(), conn.ports)
}

func TestProbeReturnsFirstLivePort(t *testing.T) {
	conn, err := NewConnector(Config{Ports: []int{9000, 9001, 9002}})
	require.NoError(t, err)
	var tried []string
	conn.resolve = func(_ context.Context, hostPort string) (string, error) {
		tried = append(tried, hostPort)
		if strings.HasSuffix(hostPort, ":9001") {
			return "ws://" + hostPort + "/devtools/browser/x", nil
		}
		return "", errors.New("connection refused")
	}

	port, err := conn.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9001, port)
	assert.Equal(t, []string{"127.0.0.1:9000", "127.0.0.1:9001"}, tried)
}

func TestPagesUnavailableWithoutEndpoint(t *testing.T) {
	conn, err := NewConnector(Config{Ports: []int{9000}})
	require.NoError(t, err)
	conn.resolve = func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	}

	_, err = conn.Pages(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Zero(t, conn.Port())
}

func TestResolveControlURLReadsVersionEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"webSocketDebuggerUrl":"ws://` + r.Host + `/devtools/browser/abc"}`))
	}))
	defer server.Close()

	_, portText, err := net.SplitHostPort(strings.TrimPrefix(server.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	conn, err := NewConnector(Config{Ports: []int{port}})
	require.NoError(t, err)
	got, err := conn.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, port, got)
}

func TestDecodeMatchesLinksNeighborhood(t *testing.T) {
	raw := []byte(`[
	  {"ref": "n1", "root": {"tag": "div", "children": [
	    {"tag": "pre", "text": "rm -rf /"},
	    {"tag": "div", "children": [
	      {"ref": "n1", "tag": "button", "text": "Run", "rect": {"width": 40, "height": 20}}
	    ]}
	  ]}},
	  {"ref": "missing", "root": {"tag": "div"}},
	  {"ref": "n2", "root": null}
	]`)

	nodes, err := decodeMatches(raw)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	button := nodes[0]
	assert.Equal(t, "Run", button.Text)
	require.NotNil(t, button.Parent())
	siblings := button.Parent().PreviousSiblings(5)
	require.Len(t, siblings, 1)
	assert.Equal(t, "rm -rf /", siblings[0].Text)
}

func TestWorkbenchPageFilter(t *testing.T) {
	assert.True(t, workbenchPage(&proto.TargetTargetInfo{Type: proto.TargetTargetInfoTypePage, URL: "vscode-file://vscode-app/workbench.html"}))
	assert.False(t, workbenchPage(&proto.TargetTargetInfo{Type: proto.TargetTargetInfoTypePage, URL: "devtools://devtools/bundled/inspector.html"}))
	assert.False(t, workbenchPage(&proto.TargetTargetInfo{Type: proto.TargetTargetInfoTypeServiceWorker}))
	assert.False(t, workbenchPage(nil))
}

func TestScriptsShareDocumentHelpers(t *testing.T) {
	for name, script := range map[string]string{
		"query":    queryScript,
		"activate": activateScript,
		"signals":  signalsScript,
		"mount":    mountScript,
	} {
		assert.Contains(t, script, "__aaDocuments", name)
		assert.True(t, strings.HasPrefix(script, "("), name)
	}

	// Nested frames are walked once each, down to a fixed depth.
	assert.Contains(t, documentsJS, "walk(child, depth + 1)")
	assert.Contains(t, documentsJS, "if (!doc || visited.has(doc)) return;")
	assert.Contains(t, documentsJS, "if (depth >= maxFrameDepth) return;")
}

func TestMountScriptsTrackAnchorAndCleanUp(t *testing.T) {
	assert.Contains(t, mountScript, "new ResizeObserver(place)")
	assert.Contains(t, mountScript, "typeof ResizeObserver === 'function'")
	assert.Contains(t, mountScript, "el.dataset.aaStyle = m.styleId")
	assert.Less(t, strings.Index(mountScript, "ResizeObserver"), strings.Index(mountScript, "setInterval"))

	assert.Contains(t, unmountScript, "el.__aaObserver.disconnect()")
	assert.Contains(t, unmountScript, "removeEventListener('resize'")
	assert.Contains(t, unmountScript, "clearInterval(el.__aaPlacer)")
	assert.Contains(t, unmountScript, "document.getElementById(styleId)")
	assert.Contains(t, unmountScript, "style.remove()")
}
