package agent

import (
	"fmt"
	"io"
	"net"
)

// Connect attaches the agent to an established connection, starts receiving,
// and sends the initial hello. It is used directly in tests and by the TCP
// helpers below.
func (a *Agent) Connect(conn io.ReadWriter) error {
	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	a.conn = conn
	a.mu.Unlock()
	go a.receiveLoop()
	err := a.hello()
	if err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}
	return nil
}

// ServeTCP listens on addr and attaches the agent to the first incoming
// connection.
func (a *Agent) ServeTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accepting incoming connection: %w", err)
	}
	fmt.Fprintf(a.logWriter, "accepted connection from %v\n", conn.RemoteAddr())
	return a.Connect(conn)
}

// ConnectTCP dials addr and attaches the agent to the connection.
func (a *Agent) ConnectTCP(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	fmt.Fprintf(a.logWriter, "connected to %v\n", conn.RemoteAddr())
	return a.Connect(conn)
}
