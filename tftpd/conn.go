// Copyright 2021 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tftpd

import (
	"context"
	"net"
	"time"

	"github.com/dustin/go-humanize"

	"go.fuchsia.dev/tftpd/clock"
	"go.fuchsia.dev/tftpd/logger"
	"go.fuchsia.dev/tftpd/tftp"
)

// connection is the per-transfer state: the dedicated socket, the peer it
// belongs to, and the datagrams most recently sent, retained so the
// protocol engine can ask for them to be replayed. It is owned by exactly
// one goroutine.
type connection struct {
	sock    *net.UDPConn
	peer    *net.UDPAddr
	xfer    *tftp.Transfer
	timeout time.Duration

	// last holds the most recently sent datagrams, newest last; its
	// length never exceeds the negotiated window size.
	last [][]byte

	filename string
	kind     string
}

// run drives the transfer until it completes, the idle timeout strikes
// twice, or the socket fails. The read deadline doubles as the idle timer:
// every received datagram re-arms it.
func (c *connection) run(ctx context.Context) {
	start := clock.Now(ctx)
	defer func() {
		c.sock.Close()
		if err := c.xfer.Close(); err != nil {
			logger.Warningf(ctx, "closing %q: %v", c.filename, err)
		}
		logger.Infof(ctx, "%s transfer of %q with %s closed: %s in %s",
			c.kind, c.filename, c.peer,
			humanize.IBytes(c.xfer.Transferred()),
			clock.Now(ctx).Sub(start).Round(time.Millisecond))
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.sock.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, tftp.MaxPacketSize)
	for {
		c.sock.SetReadDeadline(time.Now().Add(c.timeout))
		n, src, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				if c.applyTimeout(ctx, c.xfer.TimeoutExpired()) {
					return
				}
				continue
			}
			if ctx.Err() == nil {
				logger.Warningf(ctx, "transfer socket %s: %v", c.sock.LocalAddr(), err)
			}
			return
		}
		if !sameAddr(src, c.peer) {
			// A datagram from an unexpected transfer ID gets an error
			// reply; the transfer itself continues undisturbed.
			c.sock.WriteToUDP(tftp.Encode(tftp.UnknownTransferID.Packet()), src)
			continue
		}
		pkt, err := tftp.Decode(buf[:n])
		if err != nil {
			logger.Warningf(ctx, "malformed packet from %s: %v", src, err)
			continue
		}
		resp, err := c.xfer.Rx(pkt)
		if err != nil {
			logger.Warningf(ctx, "%s: %v", c.peer, err)
			continue
		}
		if c.applyResponse(ctx, resp) {
			return
		}
	}
}

// applyResponse walks the engine's response in order: fresh packets are
// sent and become the new replay history, RepeatLast items replay from the
// previous history without re-recording, and Done stops the walk. It
// reports whether the transfer is over.
func (c *connection) applyResponse(ctx context.Context, resp tftp.Response) bool {
	var sent [][]byte
	done := false
	for _, item := range resp {
		switch item := item.(type) {
		case tftp.SendPacket:
			out := tftp.Encode(item.Packet)
			if _, err := c.sock.WriteToUDP(out, c.peer); err != nil {
				logger.Warningf(ctx, "sending to %s: %v", c.peer, err)
				c.last = sent
				return true
			}
			sent = append(sent, out)
		case tftp.RepeatLast:
			if !c.replay(ctx, item.N) {
				c.last = sent
				return true
			}
		case tftp.Done:
			done = true
		}
		if done {
			break
		}
	}
	c.last = sent
	return done
}

// applyTimeout handles the single action produced by an idle expiry. A
// retransmitted packet replaces the history; a replay leaves it intact.
func (c *connection) applyTimeout(ctx context.Context, item tftp.ResponseItem) bool {
	switch item := item.(type) {
	case tftp.SendPacket:
		out := tftp.Encode(item.Packet)
		if _, err := c.sock.WriteToUDP(out, c.peer); err != nil {
			logger.Warningf(ctx, "sending to %s: %v", c.peer, err)
			return true
		}
		c.last = [][]byte{out}
	case tftp.RepeatLast:
		logger.Debugf(ctx, "%q with %s idle; retransmitting", c.filename, c.peer)
		if !c.replay(ctx, item.N) {
			return true
		}
	case tftp.Done:
		return true
	}
	return false
}

// replay resends the newest n entries of the history in their original
// order. It reports false when the socket fails.
func (c *connection) replay(ctx context.Context, n int) bool {
	if n > len(c.last) {
		n = len(c.last)
	}
	for _, out := range c.last[len(c.last)-n:] {
		if _, err := c.sock.WriteToUDP(out, c.peer); err != nil {
			logger.Warningf(ctx, "sending to %s: %v", c.peer, err)
			return false
		}
	}
	return true
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP) && a.Zone == b.Zone
}
