// Copyright 2021 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tftp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
)

var (
	errPacketTooShort = errors.New("tftp: packet too short")
	errBadOpcode      = errors.New("tftp: opcode out of bounds")
	errBadErrorCode   = errors.New("tftp: error code out of bounds")
	errBadMode        = errors.New("tftp: unsupported transfer mode")
	errBadString      = errors.New("tftp: string not NUL-terminated")
)

// Packet is one of the six TFTP packet types: *ReadRequest, *WriteRequest,
// *Data, *Ack, *Error, or *OptionAck.
type Packet interface {
	opcode() uint16
}

// ReadRequest is an RRQ packet.
type ReadRequest struct {
	Filename string
	Mode     Mode
	Options  []Option
}

// WriteRequest is a WRQ packet.
type WriteRequest struct {
	Filename string
	Mode     Mode
	Options  []Option
}

// Data is a DATA packet carrying up to one blocksize of payload.
type Data struct {
	Block   uint16
	Payload []byte
}

// Ack acknowledges receipt of the DATA packet with the given block number.
type Ack struct {
	Block uint16
}

// Error is an ERROR packet. Receipt of one terminates a transfer.
type Error struct {
	Code    ErrorCode
	Message string
}

// OptionAck is an OACK packet echoing the options accepted by the server
// (RFC 2347).
type OptionAck struct {
	Options []Option
}

func (*ReadRequest) opcode() uint16 { return opRrq }

func (*WriteRequest) opcode() uint16 { return opWrq }

func (*Data) opcode() uint16 { return opData }

func (*Ack) opcode() uint16 { return opAck }

func (*Error) opcode() uint16 { return opError }

func (*OptionAck) opcode() uint16 { return opOack }

// Encode returns the wire representation of p. All integer fields are
// big-endian; strings are NUL-terminated; option values are written as
// ASCII decimal.
func Encode(p Packet) []byte {
	b := make([]byte, 2, 2+encodedSizeHint(p))
	binary.BigEndian.PutUint16(b, p.opcode())
	switch p := p.(type) {
	case *ReadRequest:
		b = appendRequest(b, p.Filename, p.Mode, p.Options)
	case *WriteRequest:
		b = appendRequest(b, p.Filename, p.Mode, p.Options)
	case *Data:
		b = appendUint16(b, p.Block)
		b = append(b, p.Payload...)
	case *Ack:
		b = appendUint16(b, p.Block)
	case *Error:
		b = appendUint16(b, uint16(p.Code))
		b = append(b, p.Message...)
		b = append(b, 0)
	case *OptionAck:
		b = appendOptions(b, p.Options)
	}
	return b
}

func encodedSizeHint(p Packet) int {
	if d, ok := p.(*Data); ok {
		return 2 + len(d.Payload)
	}
	return maxRequestSize
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func appendRequest(b []byte, filename string, mode Mode, options []Option) []byte {
	b = append(b, filename...)
	b = append(b, 0)
	b = append(b, mode...)
	b = append(b, 0)
	return appendOptions(b, options)
}

func appendOptions(b []byte, options []Option) []byte {
	for _, o := range options {
		b = append(b, o.Name...)
		b = append(b, 0)
		b = strconv.AppendUint(b, o.Value, 10)
		b = append(b, 0)
	}
	return b
}

// Decode parses a single datagram. The returned packet does not alias b;
// callers may reuse the buffer. Malformed datagrams yield an error; unknown
// or out-of-bounds options within an otherwise well-formed request are
// dropped silently, never an error.
func Decode(b []byte) (Packet, error) {
	if len(b) < 2 {
		return nil, errPacketTooShort
	}
	op, rest := binary.BigEndian.Uint16(b[:2]), b[2:]
	switch op {
	case opRrq, opWrq:
		return decodeRequest(op, rest)
	case opData:
		return decodeData(rest)
	case opAck:
		return decodeAck(rest)
	case opError:
		return decodeError(rest)
	case opOack:
		return &OptionAck{Options: decodeOptions(rest)}, nil
	}
	return nil, errBadOpcode
}

// nextString consumes one NUL-terminated UTF-8 string, returning it and the
// remainder past the terminator.
func nextString(b []byte) (string, []byte, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, errBadString
	}
	return string(b[:i]), b[i+1:], nil
}

func parseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeOctet:
		return ModeOctet, nil
	case ModeNetASCII:
		return ModeNetASCII, nil
	case ModeMail:
		return ModeMail, nil
	}
	return "", errBadMode
}

func decodeRequest(op uint16, b []byte) (Packet, error) {
	// Requests are capped at 512 bytes on the wire.
	if len(b) > maxRequestSize-2 {
		b = b[:maxRequestSize-2]
	}
	filename, b, err := nextString(b)
	if err != nil {
		return nil, err
	}
	modeStr, b, err := nextString(b)
	if err != nil {
		return nil, err
	}
	mode, err := parseMode(modeStr)
	if err != nil {
		return nil, err
	}
	options := decodeOptions(b)
	if op == opWrq {
		return &WriteRequest{Filename: filename, Mode: mode, Options: options}, nil
	}
	return &ReadRequest{Filename: filename, Mode: mode, Options: options}, nil
}

// decodeOptions walks (name, value) string pairs. Unrecognized names,
// unparsable values, and a dangling trailing name are all ignored.
func decodeOptions(b []byte) []Option {
	var options []Option
	for len(b) > 0 {
		name, rest, err := nextString(b)
		if err != nil {
			break
		}
		value, rest, err := nextString(rest)
		if err != nil {
			break
		}
		b = rest
		if o, ok := parseOption(name, value); ok {
			options = append(options, o)
		}
	}
	return options
}

func decodeData(b []byte) (Packet, error) {
	if len(b) < 2 {
		return nil, errPacketTooShort
	}
	return &Data{
		Block:   binary.BigEndian.Uint16(b[:2]),
		Payload: append([]byte(nil), b[2:]...),
	}, nil
}

func decodeAck(b []byte) (Packet, error) {
	if len(b) < 2 {
		return nil, errPacketTooShort
	}
	// Trailing bytes after the block number are ignored.
	return &Ack{Block: binary.BigEndian.Uint16(b[:2])}, nil
}

func decodeError(b []byte) (Packet, error) {
	if len(b) < 2 {
		return nil, errPacketTooShort
	}
	code := binary.BigEndian.Uint16(b[:2])
	if code > maxErrorCode {
		return nil, errBadErrorCode
	}
	msg, _, err := nextString(b[2:])
	if err != nil {
		return nil, err
	}
	return &Error{Code: ErrorCode(code), Message: msg}, nil
}
