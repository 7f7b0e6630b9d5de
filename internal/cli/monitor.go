package cli

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/pharmanotify/pharmanotify/pkg/protocol"
)

const monitorMenu = `
--- PharmaNotify Monitor ---
 1) Create pharmacy
 2) List pharmacies
 3) Rename pharmacy
 4) Deactivate pharmacy
 5) Activate pharmacy
 6) Server status
 7) Statistics
 8) Run task
 0) Quit
> `

// Monitor is the interactive admin menu. Unlike the client it holds no
// connection: every command is a fresh one-shot exchange over the unix
// socket.
type Monitor struct {
	socketPath string
	in         *bufio.Reader
	out        io.Writer
}

// RunMonitor runs the admin menu until the user quits.
func RunMonitor(socketPath string, in io.Reader, out io.Writer) error {
	m := &Monitor{
		socketPath: socketPath,
		in:         bufio.NewReader(in),
		out:        out,
	}
	return m.run()
}

func (m *Monitor) run() error {
	for {
		fmt.Fprint(m.out, monitorMenu)
		choice, err := m.readLine()
		if err != nil {
			return nil
		}

		req, ok := m.buildRequest(choice)
		if !ok {
			if choice == "0" {
				return nil
			}
			fmt.Fprintln(m.out, "invalid option")
			continue
		}

		if err := m.exchange(req); err != nil {
			fmt.Fprintf(m.out, "command failed: %v\n", err)
		}
	}
}

// exchange performs one one-shot request/response cycle.
func (m *Monitor) exchange(req protocol.Request) error {
	conn, err := net.Dial("unix", m.socketPath)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", m.socketPath, err)
	}
	defer func() { _ = conn.Close() }()

	if err := protocol.Send(conn, req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	payload, err := protocol.Receive(conn)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	printEnvelope(m.out, envelopeKind(payload), payload)
	return nil
}

func (m *Monitor) buildRequest(choice string) (protocol.Request, bool) {
	switch choice {
	case "1":
		name := m.prompt("pharmacy name: ")
		return protocol.Request{Action: "create_pharmacy", Name: &name}, true
	case "2":
		return protocol.Request{Action: "list_pharmacies"}, true
	case "3":
		return protocol.Request{
			Action:      "rename_pharmacy",
			CurrentName: m.prompt("current name: "),
			NewName:     m.prompt("new name: "),
		}, true
	case "4":
		name := m.prompt("pharmacy name: ")
		return protocol.Request{Action: "deactivate_pharmacy", Name: &name}, true
	case "5":
		name := m.prompt("pharmacy name: ")
		return protocol.Request{Action: "activate_pharmacy", Name: &name}, true
	case "6":
		return protocol.Request{Action: "status"}, true
	case "7":
		return protocol.Request{Action: "statistics"}, true
	case "8":
		return protocol.Request{Action: "run_task", Task: m.prompt("task name: ")}, true
	default:
		return protocol.Request{}, false
	}
}

func (m *Monitor) prompt(label string) string {
	fmt.Fprint(m.out, label)
	line, err := m.readLine()
	if err != nil {
		return ""
	}
	return line
}

func (m *Monitor) readLine() (string, error) {
	line, err := m.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
