package udp

import (
	"errors"
	"fmt"
	"net"
)

var ErrNilConnection = errors.New("UDP connection is nil")

// Listen opens a local datagram socket for the air link.
func Listen(address string) (*net.UDPConn, error) {
	local, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	return net.ListenUDP("udp", local)
}

func Resolve(address string) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	return addr, nil
}

// SendTo writes one datagram to peer.
func SendTo(conn *net.UDPConn, peer *net.UDPAddr, data []byte) (int, error) {
	if conn == nil {
		return 0, ErrNilConnection
	}
	return conn.WriteToUDP(data, peer)
}
