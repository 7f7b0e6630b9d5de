package cli

import (
	"bytes"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmanotify/pharmanotify/pkg/protocol"
)

// syncWriter is a lockable output sink: the client's reader goroutine prints
// notifications concurrently with the menu loop.
type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestMonitor_OneShotPerCommand(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "monitor.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	// Serve one-shot exchanges like the admin handler does, counting
	// connections to show each menu command dials fresh.
	connCount := make(chan struct{}, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			connCount <- struct{}{}
			go func(conn net.Conn) {
				defer conn.Close()
				var req protocol.Request
				if protocol.ReceiveInto(conn, &req) != nil {
					return
				}
				resp := protocol.OKResponse("handled " + req.Action)
				if req.Action == "status" {
					resp.ServerState = "ready"
				}
				_ = protocol.Send(conn, resp)
			}(conn)
		}
	}()

	input := strings.NewReader("6\n7\n0\n")
	var out bytes.Buffer
	require.NoError(t, RunMonitor(socketPath, input, &out))

	assert.Contains(t, out.String(), "handled status")
	assert.Contains(t, out.String(), "handled statistics")
	assert.Contains(t, out.String(), "state=ready")
	assert.Len(t, connCount, 2)
}

func TestClient_HandshakeRejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var hs protocol.Handshake
		if protocol.ReceiveInto(conn, &hs) != nil {
			return
		}
		_ = protocol.Send(conn, protocol.RejectionEnvelope("pharmacy is not registered"))
	}()

	var out syncWriter
	err = RunClient(ln.Addr().String(), "Farmacia Fantasma", strings.NewReader(""), &out)
	assert.ErrorIs(t, err, errServerClosed)
	assert.Contains(t, out.String(), "not registered")
}

func TestClient_MenuExchange(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var hs protocol.Handshake
		if protocol.ReceiveInto(conn, &hs) != nil {
			return
		}
		_ = protocol.Send(conn, protocol.StateSummary{
			Kind:              protocol.KindStateSummary,
			ActiveMedications: 2,
		})

		// Push a notification before the first request lands; the client
		// must route it around the request/response cycle.
		_ = protocol.Send(conn, protocol.NotificationEnvelope("Aspirina expires tomorrow"))

		var req protocol.Request
		if protocol.ReceiveInto(conn, &req) != nil {
			return
		}
		resp := protocol.OKResponse("2 active medication(s)")
		resp.Medications = []protocol.MedicationInfo{
			{Code: "X1", Name: "Ibuprofeno", ExpiryDate: "2026-01-01"},
			{Code: "X2", Name: "Aspirina", ExpiryDate: "2026-02-01"},
		}
		_ = protocol.Send(conn, resp)
	}()

	input := strings.NewReader("2\n0\n")
	var out syncWriter
	require.NoError(t, RunClient(ln.Addr().String(), "Farmacia Centro", input, &out))

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fake server did not finish")
	}

	assert.Contains(t, out.String(), "Active medications: 2")
	assert.Contains(t, out.String(), "[NOTIFICATION] Aspirina expires tomorrow")
	assert.Contains(t, out.String(), "X1 - Ibuprofeno")
}
