// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type client struct {
	conn     net.Conn
	out      chan []byte
	done     chan struct{}
	once     sync.Once
	watching atomic.Bool
}

func newClient(conn net.Conn) *client {
	return &client{
		conn: conn,
		out:  make(chan []byte, clientQueueSize),
		done: make(chan struct{}),
	}
}

// send queues a line for the client. It returns false if the queue is full or the client
// is gone.
func (c *client) send(line []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- line:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case line := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(line); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
