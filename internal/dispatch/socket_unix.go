//go:build unix

package dispatch

import "golang.org/x/sys/unix"

// socketFD is a raw UDP socket file descriptor.
type socketFD int

const invalidSocket socketFD = -1

func createUDPSocket() (socketFD, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return invalidSocket, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return invalidSocket, err
	}
	return socketFD(fd), nil
}

func closeSocket(fd socketFD) error {
	return unix.Close(int(fd))
}

func setSocketTTL(fd socketFD, ttl int) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, ttl)
}

func sendToSocket(fd socketFD, payload []byte, sa unix.Sockaddr) error {
	return unix.Sendto(int(fd), payload, 0, sa)
}

func isEAGAIN(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
