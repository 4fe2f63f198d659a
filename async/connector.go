package async

import "golang.org/x/sys/unix"

// Connector runs a non-blocking connect on a socket.
type Connector struct {
	fd  int
	io  Interest
	sa  unix.Sockaddr
	err error

	status Status
	armed  bool
}

// Init prepares the connector and issues the connect. It returns Complete if
// the connection was established synchronously, NeedMore if write interest
// has been armed to wait for it.
func (c *Connector) Init(fd int, io Interest, sa unix.Sockaddr) (Status, error) {
	*c = Connector{fd: fd, io: io, sa: sa}

	err := Connect(fd, sa)
	switch {
	case err == nil:
		return c.finish(Complete, nil)
	case IsWouldBlock(err):
		c.status, c.armed = NeedMore, true
		c.io.WantWrite()
		return NeedMore, nil
	default:
		return c.finish(Error, err)
	}
}

// Run checks the outcome of a pending connect. It is meant to be called when
// the socket becomes writable. Once terminal, further calls return the same
// result.
func (c *Connector) Run() (Status, error) {
	if c.status != NeedMore {
		return c.status, c.err
	}

	err := ConnectResult(c.fd)
	switch {
	case err == nil:
		return c.finish(Complete, nil)
	case IsWouldBlock(err):
		return NeedMore, nil
	default:
		return c.finish(Error, err)
	}
}

func (c *Connector) finish(status Status, err error) (Status, error) {
	if c.armed {
		c.io.DontWantWrite()
		c.armed = false
	}
	c.status, c.err = status, err
	return status, err
}
