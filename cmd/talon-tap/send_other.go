//go:build !unix

package main

import (
	"net"

	"github.com/talon-obs/talon/internal/config"
)

// trySend delivers the payload over loopback TCP. The port must match
// the agent's fallback listener.
func trySend(_ string, payload []byte) error {
	conn, err := net.Dial("tcp", config.DefaultTCPAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return err
	}
	_, err = conn.Write([]byte{'\n'})
	return err
}
