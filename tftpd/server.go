// Copyright 2021 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package tftpd runs a TFTP server over UDP. One goroutine drains each
// listening socket; every accepted transfer gets a dedicated socket bound
// to an ephemeral port on the same local IP (the transfer identifier
// convention of RFC 1350) and its own goroutine, so no transfer state is
// ever shared between goroutines.
package tftpd

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.fuchsia.dev/tftpd/logger"
	"go.fuchsia.dev/tftpd/tftp"
)

// DefaultTimeout is the idle timeout applied to transfers whose client did
// not negotiate one.
const DefaultTimeout = 3 * time.Second

// DefaultAddrs returns the standard listening addresses: the TFTP port on
// the IPv4 loopback and on the IPv6 unspecified address.
func DefaultAddrs() []*net.UDPAddr {
	return []*net.UDPAddr{
		{IP: net.IPv4(127, 0, 0, 1), Port: 69},
		{IP: net.IPv6zero, Port: 69},
	}
}

// Config specifies the working configuration of a server.
type Config struct {
	// Addrs is the nonempty list of addresses to listen on. A zero port
	// selects an ephemeral one.
	Addrs []*net.UDPAddr

	// Dir is the directory served; all client paths are joined under it.
	// Empty means the current working directory.
	Dir string

	// Timeout is the idle timeout for transfers that did not negotiate
	// one. Zero means DefaultTimeout.
	Timeout time.Duration

	// ReadOnly rejects every write request before any state is created.
	ReadOnly bool
}

// Server multiplexes concurrent TFTP transfers over any number of
// listening sockets.
type Server struct {
	proto     *tftp.Proto
	timeout   time.Duration
	listeners []*net.UDPConn

	// wg tracks live transfer goroutines so Serve can drain them.
	wg sync.WaitGroup
}

// NewServer binds one listening socket per configured address. The
// returned server does not process packets until Serve is called.
func NewServer(cfg Config) (*Server, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("tftpd: address list empty; nothing to listen on")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	s := &Server{
		proto:   tftp.NewProto(tftp.OSFileSystem{}, tftp.Policy{ReadOnly: cfg.ReadOnly, Root: cfg.Dir}),
		timeout: timeout,
	}
	for _, addr := range cfg.Addrs {
		l, err := net.ListenUDP("udp", addr)
		if err != nil {
			return nil, multierr.Append(err, s.closeListeners())
		}
		s.listeners = append(s.listeners, l)
	}
	return s, nil
}

// LocalAddrs returns the bound addresses of the listening sockets, in
// configuration order.
func (s *Server) LocalAddrs() []*net.UDPAddr {
	addrs := make([]*net.UDPAddr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.LocalAddr().(*net.UDPAddr))
	}
	return addrs
}

// Serve processes requests until ctx is cancelled. Read errors on a
// listening socket are logged and do not end Serve. Cancellation closes the
// listening sockets, lets in-flight transfers wind down, and returns any
// error from closing the listening sockets.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return s.closeListeners()
	})
	for _, l := range s.listeners {
		l := l
		g.Go(func() error {
			return s.serveListener(ctx, l)
		})
	}
	err := g.Wait()
	s.wg.Wait()
	return err
}

func (s *Server) closeListeners() error {
	var err error
	for _, l := range s.listeners {
		err = multierr.Append(err, l.Close())
	}
	return err
}

// serveListener drains one listening socket. Decode failures and errors
// attributable to a single peer are logged and dropped; the loop ends only
// when the socket is closed.
func (s *Server) serveListener(ctx context.Context, l *net.UDPConn) error {
	buf := make([]byte, tftp.MaxPacketSize)
	for {
		n, src, err := l.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warningf(ctx, "listener %s: %v", l.LocalAddr(), err)
			continue
		}
		pkt, err := tftp.Decode(buf[:n])
		if err != nil {
			logger.Warningf(ctx, "malformed packet from %s: %v", src, err)
			continue
		}
		s.handleRequest(ctx, l, pkt, src)
	}
}

// handleRequest runs one packet through the protocol engine's initial
// dispatch. The reply, if any, is sent from a freshly bound socket so the
// client learns the server-side transfer identifier; when a transfer was
// accepted that socket and a new goroutine take it over.
func (s *Server) handleRequest(ctx context.Context, l *net.UDPConn, pkt tftp.Packet, src *net.UDPAddr) {
	var filename, kind string
	switch pkt := pkt.(type) {
	case *tftp.ReadRequest:
		filename, kind = pkt.Filename, "read"
	case *tftp.WriteRequest:
		filename, kind = pkt.Filename, "write"
	}

	xfer, reply, err := s.proto.RxInitial(pkt)
	if err != nil {
		logger.Warningf(ctx, "ignoring packet from %s: %v", src, err)
		return
	}
	logger.Infof(ctx, "%s request for %q from %s", kind, filename, src)

	local := l.LocalAddr().(*net.UDPAddr)
	sock, err := net.ListenUDP("udp", &net.UDPAddr{IP: local.IP, Zone: local.Zone})
	if err != nil {
		logger.Errorf(ctx, "binding transfer socket: %v", err)
		if xfer != nil {
			xfer.Close()
		}
		return
	}

	out := tftp.Encode(reply)
	if _, err := sock.WriteToUDP(out, src); err != nil {
		logger.Warningf(ctx, "replying to %s: %v", src, err)
	}
	if xfer == nil {
		sock.Close()
		return
	}

	timeout := xfer.Timeout()
	if timeout == 0 {
		timeout = s.timeout
	}
	c := &connection{
		sock:     sock,
		peer:     src,
		xfer:     xfer,
		timeout:  timeout,
		last:     [][]byte{out},
		filename: filename,
		kind:     kind,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.run(ctx)
	}()
}
