// Package cli implements the interactive pharmacy client and the
// administrator monitor. Both are thin menu loops over the wire protocol;
// every domain decision happens server-side.
package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/pharmanotify/pharmanotify/pkg/protocol"
)

const clientMenu = `
--- PharmaNotify ---
 1) Add medication
 2) List medications
 3) Find medication by code
 4) Update medication
 5) Delete medication
 6) View notifications
 7) Set alert threshold
 8) Refresh summary
 0) Quit
> `

// errServerClosed signals the server ended the session.
var errServerClosed = errors.New("connection closed by server")

// Client is the interactive pharmacy session.
type Client struct {
	conn net.Conn
	in   *bufio.Reader
	out  io.Writer

	// The reader goroutine routes inbound frames: notifications print as
	// they arrive, everything else answers the in-flight request.
	replies chan []byte
	closed  chan struct{}
}

// RunClient connects, handshakes as pharmacyName, and runs the menu loop
// until the user quits or the server closes the session.
func RunClient(addr, pharmacyName string, in io.Reader, out io.Writer) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	c := &Client{
		conn:    conn,
		in:      bufio.NewReader(in),
		out:     out,
		replies: make(chan []byte, 1),
		closed:  make(chan struct{}),
	}
	return c.run(pharmacyName)
}

func (c *Client) run(pharmacyName string) error {
	if err := protocol.Send(c.conn, protocol.Handshake{PharmacyName: pharmacyName}); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}

	payload, err := protocol.Receive(c.conn)
	if err != nil {
		return fmt.Errorf("reading handshake reply: %w", err)
	}
	kind := envelopeKind(payload)
	if kind != protocol.KindStateSummary {
		c.printEnvelope(kind, payload)
		return errServerClosed
	}
	c.printEnvelope(kind, payload)

	go c.readLoop()

	for {
		fmt.Fprint(c.out, clientMenu)
		choice, err := c.readLine()
		if err != nil {
			return nil
		}

		req, ok := c.buildRequest(choice)
		if !ok {
			if choice == "0" {
				return nil
			}
			fmt.Fprintln(c.out, "invalid option")
			continue
		}

		if err := c.exchange(req); err != nil {
			return err
		}
	}
}

// readLoop pulls frames off the connection for the session's lifetime.
func (c *Client) readLoop() {
	defer close(c.closed)
	for {
		payload, err := protocol.Receive(c.conn)
		if err != nil {
			return
		}
		switch envelopeKind(payload) {
		case protocol.KindNotification:
			var n protocol.Notification
			if json.Unmarshal(payload, &n) == nil {
				fmt.Fprintf(c.out, "\n[NOTIFICATION] %s\n", n.Message)
			}
		case protocol.KindRejection:
			var r protocol.Rejection
			if json.Unmarshal(payload, &r) == nil {
				fmt.Fprintf(c.out, "\n[DISCONNECTED] %s\n", r.Message)
			}
			return
		default:
			c.replies <- payload
		}
	}
}

// exchange sends one request and prints its reply.
func (c *Client) exchange(req protocol.Request) error {
	if err := protocol.Send(c.conn, req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	select {
	case payload := <-c.replies:
		c.printEnvelope(envelopeKind(payload), payload)
		return nil
	case <-c.closed:
		return errServerClosed
	}
}

// buildRequest prompts for the fields of the chosen menu action. The second
// return is false for quit and unrecognized choices.
func (c *Client) buildRequest(choice string) (protocol.Request, bool) {
	switch choice {
	case "1":
		code := c.prompt("code: ")
		name := c.prompt("name: ")
		expiry := c.prompt("expiry date (YYYY-MM-DD): ")
		return protocol.Request{Action: "create_medication", Code: code, Name: &name, ExpiryDate: &expiry}, true
	case "2":
		return protocol.Request{Action: "list_medications"}, true
	case "3":
		return protocol.Request{Action: "find_medication", Code: c.prompt("code: ")}, true
	case "4":
		req := protocol.Request{Action: "update_medication", Code: c.prompt("code: ")}
		if name := c.prompt("new name (empty to keep): "); name != "" {
			req.Name = &name
		}
		if expiry := c.prompt("new expiry date (empty to keep): "); expiry != "" {
			req.ExpiryDate = &expiry
		}
		return req, true
	case "5":
		return protocol.Request{Action: "delete_medication", Code: c.prompt("code: ")}, true
	case "6":
		unread := strings.EqualFold(c.prompt("unread only? (y/N): "), "y")
		return protocol.Request{Action: "view_notifications", UnreadOnly: unread}, true
	case "7":
		days, err := strconv.Atoi(c.prompt("threshold days: "))
		if err != nil {
			fmt.Fprintln(c.out, "threshold must be a number")
			return protocol.Request{}, false
		}
		return protocol.Request{Action: "set_alert_threshold", ThresholdDays: &days}, true
	case "8":
		return protocol.Request{Action: "state_summary"}, true
	default:
		return protocol.Request{}, false
	}
}

func (c *Client) prompt(label string) string {
	fmt.Fprint(c.out, label)
	line, err := c.readLine()
	if err != nil {
		return ""
	}
	return line
}

func (c *Client) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *Client) printEnvelope(kind string, payload []byte) {
	printEnvelope(c.out, kind, payload)
}
