// Copyright 2021 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"go.fuchsia.dev/tftpd/color"
	"go.fuchsia.dev/tftpd/command"
	"go.fuchsia.dev/tftpd/logger"
	"go.fuchsia.dev/tftpd/tftpd"
)

var (
	addresses command.StringsFlag
	directory string
	timeout   uint64
	readonly  bool
	colors    color.EnableColor
	level     logger.LogLevel
)

func init() {
	colors = color.ColorAuto
	level = logger.InfoLevel

	pflag.VarP(&addresses, "address", "a", "address[:port] to listen on; may be repeated")
	pflag.StringVarP(&directory, "directory", "d", "", "directory to serve (current by default)")
	pflag.Uint64VarP(&timeout, "timeout", "t", 3, "idle seconds before a transfer retransmits; a second idle period ends it")
	pflag.BoolVarP(&readonly, "readonly", "r", false, "reject all write requests")
	pflag.Var(&colors, "color", "use color in output, can be never, auto, always")
	pflag.Var(&level, "level", "output verbosity, can be fatal, error, warning, info, debug or trace")
}

// parseAddrs turns the -a values into listening addresses. A value may be
// a bare IP, which listens on the standard TFTP port, or ip:port. With no
// -a flags the server listens on the defaults.
func parseAddrs(vals []string) ([]*net.UDPAddr, error) {
	if len(vals) == 0 {
		return tftpd.DefaultAddrs(), nil
	}
	var addrs []*net.UDPAddr
	for _, s := range vals {
		if host, portStr, err := net.SplitHostPort(s); err == nil {
			ip := net.ParseIP(host)
			port, perr := strconv.ParseUint(portStr, 10, 16)
			if ip == nil || perr != nil {
				return nil, fmt.Errorf("cannot parse %q as an ip address", s)
			}
			addrs = append(addrs, &net.UDPAddr{IP: ip, Port: int(port)})
			continue
		}
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("cannot parse %q as an ip address", s)
		}
		addrs = append(addrs, &net.UDPAddr{IP: ip, Port: 69})
	}
	return addrs, nil
}

func main() {
	pflag.Parse()

	log := logger.NewLogger(level, color.NewColor(colors), os.Stdout, os.Stderr, "tftpd ")
	ctx := logger.WithLogger(context.Background(), log)
	ctx = command.CancelOnSignals(ctx, syscall.SIGINT, syscall.SIGTERM)

	addrs, err := parseAddrs(addresses)
	if err != nil {
		logger.Fatalf(ctx, "%v", err)
	}
	if timeout == 0 {
		logger.Fatalf(ctx, "timeout may not be 0 seconds")
	}
	if directory != "" {
		if _, err := os.Stat(directory); err != nil {
			logger.Fatalf(ctx, "cannot serve %q: %v", directory, err)
		}
	}

	srv, err := tftpd.NewServer(tftpd.Config{
		Addrs:    addrs,
		Dir:      directory,
		Timeout:  time.Duration(timeout) * time.Second,
		ReadOnly: readonly,
	})
	if err != nil {
		logger.Fatalf(ctx, "creating server: %v", err)
	}
	for _, addr := range srv.LocalAddrs() {
		logger.Infof(ctx, "listening on %s", addr)
	}
	if err := srv.Serve(ctx); err != nil {
		logger.Fatalf(ctx, "%v", err)
	}
}
