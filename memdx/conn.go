package memdx

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
)

type DialConnOptions struct {
	TLSConfig *tls.Config
	Dialer    *net.Dialer
}

func DialConn(ctx context.Context, addr string, opts *DialConnOptions) (*Conn, error) {
	if opts == nil {
		opts = &DialConnOptions{}
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	var netConn net.Conn
	var err error
	if opts.TLSConfig == nil {
		netConn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    opts.TLSConfig,
		}
		netConn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	return &Conn{conn: netConn}, nil
}

// Conn wraps a net.Conn with packet framing.  Reads and writes are
// internally serialized against themselves, but a read may proceed
// concurrently with a write.
type Conn struct {
	conn net.Conn

	readLock  sync.Mutex
	reader    PacketReader
	writeLock sync.Mutex
	writer    PacketWriter
}

func (c *Conn) WritePacket(pak *Packet) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	return c.writer.WritePacket(c.conn, pak)
}

func (c *Conn) ReadPacket(pak *Packet) error {
	c.readLock.Lock()
	defer c.readLock.Unlock()

	return c.reader.ReadPacket(c.conn, pak)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
