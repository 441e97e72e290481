// Copyright 2021 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tftp

import (
	"errors"
	"time"
)

var (
	// ErrNotInitiating is returned by RxInitial for packets that cannot
	// start a transfer. No reply should be sent.
	ErrNotInitiating = errors.New("tftp: packet cannot initiate a transfer")

	// ErrTransferRunning is returned by Transfer.Rx for request packets
	// received on an already running transfer.
	ErrTransferRunning = errors.New("tftp: transfer already running")
)

// Proto is the transfer-initiating half of the protocol engine. It holds
// the policy-wrapped filesystem and turns RRQ/WRQ packets into live
// Transfers. It performs no socket I/O.
type Proto struct {
	fs FileSystem
}

// NewProto returns a Proto serving files from fs, restricted by policy.
func NewProto(fs FileSystem, policy Policy) *Proto {
	return &Proto{fs: &policyFS{fs: fs, policy: policy}}
}

// RxInitial processes a packet received on a listening socket. When a
// transfer is accepted, the returned Transfer handles all follow-up
// datagrams from the same client and the returned packet is the initial
// reply. When no transfer starts, the reply (if non-nil) still has to be
// sent; ErrNotInitiating means no reply at all.
func (p *Proto) RxInitial(pkt Packet) (*Transfer, Packet, error) {
	var (
		filename string
		mode     Mode
		options  []Option
		write    bool
	)
	switch pkt := pkt.(type) {
	case *ReadRequest:
		filename, mode, options = pkt.Filename, pkt.Mode, pkt.Options
	case *WriteRequest:
		filename, mode, options = pkt.Filename, pkt.Mode, pkt.Options
		write = true
	default:
		return nil, nil, ErrNotInitiating
	}
	switch mode {
	case ModeOctet:
	case ModeMail:
		return nil, NoSuchUser.Packet(), nil
	default:
		return nil, NotDefined.Packet(), nil
	}

	meta := transferMeta{blocksize: DefaultBlocksize, windowSize: 1}
	var (
		tsize    uint64
		hasTsize bool
		accepted []Option
	)
	for _, o := range options {
		switch o.Name {
		case OptionBlocksize:
			meta.blocksize = uint16(o.Value)
		case OptionTimeout:
			meta.timeout = time.Duration(o.Value) * time.Second
		case OptionWindowSize:
			meta.windowSize = uint16(o.Value)
		case OptionTransferSize:
			tsize, hasTsize = o.Value, true
			if !write {
				// For a read the echoed value is the file's actual
				// length, appended once the file is open.
				continue
			}
		}
		accepted = append(accepted, o)
	}

	if write {
		var hint int64
		if hasTsize {
			hint = int64(tsize)
		}
		w, err := p.fs.CreateNew(filename, hint)
		if err != nil {
			return nil, FileExists.Packet(), nil
		}
		t := &Transfer{recv: &receiver{
			w:    w,
			edge: serial(0).add(meta.windowSize),
			meta: meta,
		}}
		if len(accepted) == 0 {
			return t, &Ack{Block: 0}, nil
		}
		return t, &OptionAck{Options: accepted}, nil
	}

	r, size, err := p.fs.OpenRead(filename)
	if err != nil {
		return nil, FileNotFound.Packet(), nil
	}
	if hasTsize && size >= 0 {
		accepted = append(accepted, Option{Name: OptionTransferSize, Value: uint64(size)})
	}
	t := &Transfer{send: &sender{r: r, meta: meta}}
	if len(accepted) == 0 {
		first, err := t.send.readStep()
		if err != nil {
			r.Close()
			return nil, NotDefined.Packet(), nil
		}
		return t, first, nil
	}
	return t, &OptionAck{Options: accepted}, nil
}
