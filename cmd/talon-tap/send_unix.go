//go:build unix

package main

import "net"

// trySend delivers the payload over the Unix domain socket. Unix sockets
// are preferred on *nix for IPC: filesystem permissions and no network
// exposure.
func trySend(ipcPath string, payload []byte) error {
	conn, err := net.Dial("unix", ipcPath)
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
