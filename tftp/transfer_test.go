// Copyright 2021 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tftp

import (
	"bytes"
	"io/ioutil"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newReadTransfer(t *testing.T, content []byte, options ...Option) *Transfer {
	t.Helper()
	fs := &fakeFS{files: map[string][]byte{"f": content}}
	xfer, _, err := newProto(fs).RxInitial(&ReadRequest{Filename: "f", Mode: ModeOctet, Options: options})
	if err != nil {
		t.Fatalf("RxInitial() failed: %v", err)
	}
	return xfer
}

func newWriteTransfer(t *testing.T, fs *fakeFS, options ...Option) *Transfer {
	t.Helper()
	xfer, _, err := newProto(fs).RxInitial(&WriteRequest{Filename: "out", Mode: ModeOctet, Options: options})
	if err != nil {
		t.Fatalf("RxInitial() failed: %v", err)
	}
	return xfer
}

func rx(t *testing.T, xfer *Transfer, p Packet) Response {
	t.Helper()
	resp, err := xfer.Rx(p)
	if err != nil {
		t.Fatalf("Rx(%#v) failed: %v", p, err)
	}
	return resp
}

func diffResponse(want, got Response) string {
	return cmp.Diff(want, got, cmpopts.EquateEmpty())
}

func TestWriteFlow(t *testing.T) {
	fs := &fakeFS{}
	xfer := newWriteTransfer(t, fs)
	full := bytes.Repeat([]byte{0xaa}, 512)

	resp := rx(t, xfer, &Data{Block: 1, Payload: full})
	if diff := diffResponse(Response{SendPacket{&Ack{Block: 1}}}, resp); diff != "" {
		t.Fatalf("DATA(1) response mismatch (-want +got):\n%s", diff)
	}
	resp = rx(t, xfer, &Data{Block: 2})
	if diff := diffResponse(Response{SendPacket{&Ack{Block: 2}}, Done{}}, resp); diff != "" {
		t.Fatalf("DATA(2) response mismatch (-want +got):\n%s", diff)
	}
	if !xfer.Done() {
		t.Errorf("Transfer not done after final block")
	}
	if got := fs.writes["out"].Bytes(); !bytes.Equal(got, full) {
		t.Errorf("Sink holds %d bytes, want %d", len(got), len(full))
	}
	if xfer.Transferred() != 512 {
		t.Errorf("Transferred() = %d, want 512", xfer.Transferred())
	}

	// A completed transfer only ever reports Done.
	resp = rx(t, xfer, &Data{Block: 3, Payload: full})
	if diff := diffResponse(Response{Done{}}, resp); diff != "" {
		t.Errorf("Post-completion response mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteOutOfWindow(t *testing.T) {
	tests := []struct {
		name  string
		block uint16
	}{
		{"Duplicate", 0},
		{"PastWindow", 2},
		{"FarAhead", 40},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			xfer := newWriteTransfer(t, &fakeFS{})
			resp := rx(t, xfer, &Data{Block: test.block, Payload: []byte("x")})
			want := Response{
				SendPacket{&Error{Code: IllegalOperation, Message: "Data packet lost"}},
				Done{},
			}
			if diff := diffResponse(want, resp); diff != "" {
				t.Errorf("Response mismatch (-want +got):\n%s", diff)
			}
			if !xfer.Done() {
				t.Errorf("Transfer not done after out-of-window data")
			}
		})
	}
}

func TestWriteWindowed(t *testing.T) {
	fs := &fakeFS{}
	xfer := newWriteTransfer(t, fs,
		Option{Name: OptionBlocksize, Value: 8},
		Option{Name: OptionWindowSize, Value: 2})
	full := bytes.Repeat([]byte{1}, 8)

	// Mid-window block: no ACK until the edge.
	if resp := rx(t, xfer, &Data{Block: 1, Payload: full}); len(resp) != 0 {
		t.Fatalf("Mid-window DATA got response %#v, want none", resp)
	}
	resp := rx(t, xfer, &Data{Block: 2, Payload: full})
	if diff := diffResponse(Response{SendPacket{&Ack{Block: 2}}}, resp); diff != "" {
		t.Fatalf("Edge DATA response mismatch (-want +got):\n%s", diff)
	}

	// A block inside the window but out of sequence re-anchors the window
	// and reports what was actually received.
	resp = rx(t, xfer, &Data{Block: 4, Payload: full})
	if diff := diffResponse(Response{SendPacket{&Ack{Block: 2}}}, resp); diff != "" {
		t.Fatalf("Out-of-sequence response mismatch (-want +got):\n%s", diff)
	}

	// In-order delivery resumes and the final short block finishes at the
	// re-anchored edge.
	if resp := rx(t, xfer, &Data{Block: 3, Payload: full}); len(resp) != 0 {
		t.Fatalf("Mid-window DATA got response %#v, want none", resp)
	}
	resp = rx(t, xfer, &Data{Block: 4, Payload: full[:3]})
	if diff := diffResponse(Response{SendPacket{&Ack{Block: 4}}, Done{}}, resp); diff != "" {
		t.Fatalf("Final DATA response mismatch (-want +got):\n%s", diff)
	}
	if got := fs.writes["out"].Len(); got != 8*3+3 {
		t.Errorf("Sink holds %d bytes, want %d", got, 8*3+3)
	}
}

func TestWriteSinkFailure(t *testing.T) {
	fs := &fakeFS{writer: errWriter{}}
	xfer := newWriteTransfer(t, fs)
	resp := rx(t, xfer, &Data{Block: 1, Payload: []byte("x")})
	want := Response{SendPacket{NotDefined.Packet()}, Done{}}
	if diff := diffResponse(want, resp); diff != "" {
		t.Errorf("Response mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFlow(t *testing.T) {
	content := bytes.Repeat([]byte{3}, 1025)
	xfer := newReadTransfer(t, content)
	// RxInitial already emitted DATA(1).

	resp := rx(t, xfer, &Ack{Block: 1})
	if diff := diffResponse(Response{SendPacket{&Data{Block: 2, Payload: content[512:1024]}}}, resp); diff != "" {
		t.Fatalf("ACK(1) response mismatch (-want +got):\n%s", diff)
	}
	resp = rx(t, xfer, &Ack{Block: 2})
	if diff := diffResponse(Response{SendPacket{&Data{Block: 3, Payload: content[1024:]}}}, resp); diff != "" {
		t.Fatalf("ACK(2) response mismatch (-want +got):\n%s", diff)
	}
	resp = rx(t, xfer, &Ack{Block: 3})
	if diff := diffResponse(Response{Done{}}, resp); diff != "" {
		t.Fatalf("ACK(3) response mismatch (-want +got):\n%s", diff)
	}
	if !xfer.Done() {
		t.Errorf("Transfer not done after final ACK")
	}
	if xfer.Transferred() != 1025 {
		t.Errorf("Transferred() = %d, want 1025", xfer.Transferred())
	}
}

func TestReadWindowed(t *testing.T) {
	content := bytes.Repeat([]byte{9}, 20)
	xfer := newReadTransfer(t, content,
		Option{Name: OptionBlocksize, Value: 8},
		Option{Name: OptionWindowSize, Value: 2})
	// Options were accepted, so the first window starts on ACK(0).

	resp := rx(t, xfer, &Ack{Block: 0})
	want := Response{
		SendPacket{&Data{Block: 1, Payload: content[:8]}},
		SendPacket{&Data{Block: 2, Payload: content[8:16]}},
	}
	if diff := diffResponse(want, resp); diff != "" {
		t.Fatalf("ACK(0) response mismatch (-want +got):\n%s", diff)
	}

	// A partial ack slides the window: the unacknowledged tail is
	// replayed from history and only the remainder is read fresh.
	resp = rx(t, xfer, &Ack{Block: 1})
	want = Response{
		RepeatLast{N: 1},
		SendPacket{&Data{Block: 3, Payload: content[16:]}},
	}
	if diff := diffResponse(want, resp); diff != "" {
		t.Fatalf("ACK(1) response mismatch (-want +got):\n%s", diff)
	}

	resp = rx(t, xfer, &Ack{Block: 3})
	if diff := diffResponse(Response{Done{}}, resp); diff != "" {
		t.Fatalf("ACK(3) response mismatch (-want +got):\n%s", diff)
	}
}

func TestReadAckOutOfWindow(t *testing.T) {
	content := bytes.Repeat([]byte{4}, 2000)
	xfer := newReadTransfer(t, content)
	// DATA(1) is outstanding and the window has size 1, so only ACK(1) is
	// inside the window (0, 1]; ACK(5) is outside it.
	resp := rx(t, xfer, &Ack{Block: 5})
	want := Response{
		SendPacket{&Error{Code: UnknownTransferID, Message: "Incorrect block num in ACK"}},
		Done{},
	}
	if diff := diffResponse(want, resp); diff != "" {
		t.Errorf("Response mismatch (-want +got):\n%s", diff)
	}
	if !xfer.Done() {
		t.Errorf("Transfer not done after bad ACK")
	}
}

func TestReadSourceFailure(t *testing.T) {
	fs := &fakeFS{files: map[string][]byte{"f": bytes.Repeat([]byte{1}, 600)}}
	xfer, _, err := newProto(fs).RxInitial(&ReadRequest{
		Filename: "f",
		Mode:     ModeOctet,
		// Negotiating any option defers the first read past the OACK.
		Options: []Option{{Name: OptionWindowSize, Value: 1}},
	})
	if err != nil {
		t.Fatalf("RxInitial() failed: %v", err)
	}
	xfer.send.r = errReader{}
	resp := rx(t, xfer, &Ack{Block: 0})
	want := Response{SendPacket{NotDefined.Packet()}, Done{}}
	if diff := diffResponse(want, resp); diff != "" {
		t.Errorf("Response mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBlockNumberRollover(t *testing.T) {
	content := bytes.Repeat([]byte{5}, 3*8)
	s := &sender{
		r:    ioutil.NopCloser(bytes.NewReader(content)),
		seq:  math.MaxUint16 - 1,
		meta: transferMeta{blocksize: 8, windowSize: 2},
	}
	xfer := &Transfer{send: s}

	resp := rx(t, xfer, &Ack{Block: math.MaxUint16 - 1})
	want := Response{
		SendPacket{&Data{Block: math.MaxUint16, Payload: content[:8]}},
		SendPacket{&Data{Block: 0, Payload: content[8:16]}},
	}
	if diff := diffResponse(want, resp); diff != "" {
		t.Fatalf("Pre-rollover response mismatch (-want +got):\n%s", diff)
	}

	// An ack for the block just before the wrap is still inside the
	// window.
	resp = rx(t, xfer, &Ack{Block: math.MaxUint16})
	want = Response{
		RepeatLast{N: 1},
		SendPacket{&Data{Block: 1, Payload: content[16:]}},
	}
	if diff := diffResponse(want, resp); diff != "" {
		t.Fatalf("Rollover response mismatch (-want +got):\n%s", diff)
	}
}

func TestWrongDirectionPackets(t *testing.T) {
	t.Run("AckOnWrite", func(t *testing.T) {
		xfer := newWriteTransfer(t, &fakeFS{})
		resp := rx(t, xfer, &Ack{Block: 0})
		want := Response{SendPacket{IllegalOperation.Packet()}, Done{}}
		if diff := diffResponse(want, resp); diff != "" {
			t.Errorf("Response mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("DataOnRead", func(t *testing.T) {
		xfer := newReadTransfer(t, []byte("abc"))
		resp := rx(t, xfer, &Data{Block: 1, Payload: []byte("x")})
		want := Response{SendPacket{IllegalOperation.Packet()}, Done{}}
		if diff := diffResponse(want, resp); diff != "" {
			t.Errorf("Response mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestPeerError(t *testing.T) {
	xfer := newWriteTransfer(t, &fakeFS{})
	resp := rx(t, xfer, &Error{Code: DiskFull, Message: "full"})
	if diff := diffResponse(Response{Done{}}, resp); diff != "" {
		t.Errorf("Response mismatch (-want +got):\n%s", diff)
	}
	if !xfer.Done() {
		t.Errorf("Transfer not done after peer error")
	}
}

func TestRequestOnRunningTransfer(t *testing.T) {
	xfer := newWriteTransfer(t, &fakeFS{})
	for _, p := range []Packet{
		&ReadRequest{Filename: "f", Mode: ModeOctet},
		&WriteRequest{Filename: "f", Mode: ModeOctet},
		&OptionAck{},
	} {
		if _, err := xfer.Rx(p); err != ErrTransferRunning {
			t.Errorf("Rx(%T) error = %v, want ErrTransferRunning", p, err)
		}
	}
	if xfer.Done() {
		t.Errorf("Request packets must not complete the transfer")
	}
}

func TestTimeoutExpired(t *testing.T) {
	t.Run("ReadRetransmitsWindow", func(t *testing.T) {
		xfer := newReadTransfer(t, bytes.Repeat([]byte{1}, 600),
			Option{Name: OptionWindowSize, Value: 4})
		if got := xfer.TimeoutExpired(); got != (RepeatLast{N: 4}) {
			t.Errorf("First expiry = %#v, want RepeatLast{4}", got)
		}
		if got := xfer.TimeoutExpired(); got != (Done{}) {
			t.Errorf("Second expiry = %#v, want Done", got)
		}
		if !xfer.Done() {
			t.Errorf("Transfer not done after second expiry")
		}
	})

	t.Run("WriteRepliesLastAck", func(t *testing.T) {
		xfer := newWriteTransfer(t, &fakeFS{})
		if got := xfer.TimeoutExpired(); got != (RepeatLast{N: 1}) {
			t.Errorf("First expiry = %#v, want RepeatLast{1}", got)
		}
		if got := xfer.TimeoutExpired(); got != (Done{}) {
			t.Errorf("Second expiry = %#v, want Done", got)
		}
	})

	t.Run("WriteMidWindowEmitsAck", func(t *testing.T) {
		fs := &fakeFS{}
		xfer := newWriteTransfer(t, fs,
			Option{Name: OptionBlocksize, Value: 8},
			Option{Name: OptionWindowSize, Value: 4})
		rx(t, xfer, &Data{Block: 1, Payload: bytes.Repeat([]byte{1}, 8)})
		got := xfer.TimeoutExpired()
		want := SendPacket{&Ack{Block: 1}}
		if diff := cmp.Diff(ResponseItem(want), got); diff != "" {
			t.Errorf("First expiry mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ProgressClearsStrike", func(t *testing.T) {
		fs := &fakeFS{}
		xfer := newWriteTransfer(t, fs)
		if got := xfer.TimeoutExpired(); got != (RepeatLast{N: 1}) {
			t.Fatalf("First expiry = %#v, want RepeatLast{1}", got)
		}
		// In-order data clears the strike, so the next expiry retransmits
		// again instead of closing.
		rx(t, xfer, &Data{Block: 1, Payload: bytes.Repeat([]byte{1}, 512)})
		if got := xfer.TimeoutExpired(); got != (RepeatLast{N: 1}) {
			t.Errorf("Expiry after progress = %#v, want RepeatLast{1}", got)
		}
	})

	t.Run("Complete", func(t *testing.T) {
		xfer := newWriteTransfer(t, &fakeFS{})
		rx(t, xfer, &Error{Code: NotDefined})
		if got := xfer.TimeoutExpired(); got != (Done{}) {
			t.Errorf("Expiry on complete transfer = %#v, want Done", got)
		}
	})
}

func TestTransferTimeout(t *testing.T) {
	xfer := newWriteTransfer(t, &fakeFS{}, Option{Name: OptionTimeout, Value: 7})
	if got := xfer.Timeout(); got != 7e9 {
		t.Errorf("Timeout() = %v, want 7s", got)
	}
	xfer = newWriteTransfer(t, &fakeFS{})
	if got := xfer.Timeout(); got != 0 {
		t.Errorf("Timeout() = %v, want 0 (server default)", got)
	}
}
