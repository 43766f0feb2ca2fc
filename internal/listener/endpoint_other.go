//go:build !unix

package listener

import (
	"fmt"
	"net"

	"github.com/talon-obs/talon/internal/config"
)

// Listen binds the platform stream endpoint. Without Unix sockets the
// agent listens on loopback TCP; binding 127.0.0.1 keeps the endpoint
// off the network.
func Listen(string) (net.Listener, error) {
	ln, err := net.Listen("tcp", config.DefaultTCPAddr)
	if err != nil {
		return nil, fmt.Errorf("bind TCP %s: %w", config.DefaultTCPAddr, err)
	}
	return ln, nil
}
