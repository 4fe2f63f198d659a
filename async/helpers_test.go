package async_test

import (
	"net"

	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"
)

// interest records what a step function armed.
type interest struct {
	read, write bool
}

func (i *interest) WantRead()      { i.read = true }
func (i *interest) DontWantRead()  { i.read = false }
func (i *interest) WantWrite()     { i.write = true }
func (i *interest) DontWantWrite() { i.write = false }

func socketPair() (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	Expect(err).To(Succeed())
	return fds[0], fds[1]
}

func send(fd int, data []byte) {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		Expect(err).To(Succeed())
		data = data[n:]
	}
}

// serveBanner accepts a single connection on a loopback listener and writes
// lines to it. The connection is closed when the returned channel is closed.
func serveBanner(lines ...string) (string, chan struct{}) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).To(Succeed())

	release := make(chan struct{})

	go func() {
		defer listener.Close()

		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		for _, line := range lines {
			if _, err := conn.Write([]byte(line)); err != nil {
				return
			}
		}
		<-release
	}()

	return listener.Addr().String(), release
}
