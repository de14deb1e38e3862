// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/periphlabs/ledshaderd/internal/kv"
	"github.com/periphlabs/ledshaderd/internal/layout"
	"github.com/periphlabs/ledshaderd/internal/native"
	"github.com/periphlabs/ledshaderd/internal/ota"
	"github.com/periphlabs/ledshaderd/internal/outpipe"
	"github.com/periphlabs/ledshaderd/internal/render"
	"github.com/periphlabs/ledshaderd/internal/serverstate"
	"github.com/periphlabs/ledshaderd/internal/vm"
)

type countingTransmitter struct {
	mu    sync.Mutex
	calls int
	last  map[int][]byte
}

func newCountingTransmitter() *countingTransmitter {
	return &countingTransmitter{last: map[int][]byte{}}
}

func (c *countingTransmitter) Transmit(segment int, wire []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last[segment] = append([]byte(nil), wire...)
	return nil
}

func (c *countingTransmitter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// testStack is one fully wired server plus a connected client, backed by a
// temp-dir kv store and ota updater, torn down with the test.
type testStack struct {
	srv    *Server
	state  *serverstate.State
	tx     *countingTransmitter
	conn   net.Conn
	otaDir string
}

func newTestStack(t *testing.T, lay layout.Layout) *testStack {
	t.Helper()
	st := serverstate.New(lay, 0, vm.MaxBytecodeBlob)
	tx := newCountingTransmitter()
	pipe, err := outpipe.Init(tx, &st.Layout, 100)
	if err != nil {
		t.Fatal(err)
	}
	orch := render.New(st, pipe, native.SolidWhite, zerolog.Nop())
	otaDir := t.TempDir()
	srv, err := Listen(Config{
		State:        st,
		Pipeline:     pipe,
		Orchestrator: orch,
		KV:           kv.NewFileStore(t.TempDir()),
		OTA: ota.NewFileUpdater(
			filepath.Join(otaDir, "ota.staging"),
			filepath.Join(otaDir, "ota.img"),
			nil,
		),
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testStack{srv: srv, state: st, tx: tx, conn: conn, otaDir: otaDir}
}

func smallPanel() layout.Layout {
	return layout.Layout{
		Width:  2,
		Height: 2,
		Segments: []layout.Segment{
			{GPIO: "GPIO18", LEDCount: 4},
		},
	}
}

// emptyProgram is the smallest blob vm.Load accepts: header, no params, an
// empty frame block, no layers.
func emptyProgram() []byte {
	blob := []byte{'D', 'S', 'L', 'B', 3, 0, 0, 0}
	blob = append(blob, 0, 0, 0, 0) // param_count = 0
	blob = append(blob, 0, 0, 0, 0) // frame stmt_count = 0
	blob = append(blob, 0, 0, 0, 0) // layer_count = 0
	return blob
}

func sendMessage(t *testing.T, conn net.Conn, version uint8, count uint32, kind uint8, payload []byte) {
	t.Helper()
	msg := make([]byte, 0, headerSize+len(payload))
	msg = append(msg, 'L', 'E', 'D', 'S', version)
	msg = binary.BigEndian.AppendUint32(msg, count)
	msg = append(msg, kind)
	msg = append(msg, payload...)
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sendCommand(t *testing.T, conn net.Conn, cmdID uint8, payload []byte) {
	t.Helper()
	sendMessage(t, conn, 3, uint32(len(payload)), cmdID, payload)
}

// readCommandResponse reads one v3 response: the header, the status byte,
// and any trailing payload, asserting the response_type is cmdID|0x80.
func readCommandResponse(t *testing.T, conn net.Conn, cmdID uint8) (Status, []byte) {
	t.Helper()
	var hdr [headerSize]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	if !bytes.Equal(hdr[0:4], []byte("LEDS")) || hdr[4] != 3 {
		t.Fatalf("response header = % x, want LEDS v3", hdr)
	}
	if hdr[9] != cmdID|0x80 {
		t.Fatalf("response_type = %#x, want %#x", hdr[9], cmdID|0x80)
	}
	count := binary.BigEndian.Uint32(hdr[5:9])
	if count < 1 {
		t.Fatalf("response payload_len = %d, want >= 1 (status byte)", count)
	}
	body := make([]byte, count)
	if _, err := io.ReadFull(conn, body); err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return Status(body[0]), body[1:]
}

func TestFrameV2Ack(t *testing.T) {
	lay := layout.Layout{
		Width:  30,
		Height: 40,
		Segments: []layout.Segment{
			{GPIO: "GPIO17", LEDCount: 400},
			{GPIO: "GPIO27", LEDCount: 400},
			{GPIO: "GPIO22", LEDCount: 400},
		},
	}
	ts := newTestStack(t, lay)

	payload := make([]byte, 1200*3)
	sendMessage(t, ts.conn, 2, 1200, 0, payload) // format 0 = RGB

	var ack [1]byte
	if _, err := io.ReadFull(ts.conn, ack[:]); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack[0] != 0x06 {
		t.Fatalf("ack = %#x, want 0x06", ack[0])
	}
	// Transmit runs asynchronously; Deinit joins it before counting calls.
	if err := ts.srv.pipeline.Deinit(); err != nil {
		t.Fatal(err)
	}
	if ts.tx.callCount() == 0 {
		t.Fatal("frame never reached the transmitter")
	}
}

func TestFrameV1NoAckSessionContinues(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	sendMessage(t, ts.conn, 1, 4, 0, make([]byte, 4*3))

	// No ack for v1; the session must still be framed for the next message.
	sendCommand(t, ts.conn, cmdQueryDefaultHook, nil)
	status, body := readCommandResponse(t, ts.conn, cmdQueryDefaultHook)
	if status != StatusOK {
		t.Fatalf("query status = %d, want ok", status)
	}
	if len(body) != 20 {
		t.Fatalf("query payload = %d bytes, want 20", len(body))
	}
}

func TestFramePixelCountMismatchEndsSession(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	sendMessage(t, ts.conn, 2, 3, 0, make([]byte, 3*3)) // layout total is 4

	var b [1]byte
	if _, err := ts.conn.Read(b[:]); err == nil {
		t.Fatal("expected the server to close the connection")
	}
}

func TestBadMagicEndsSession(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	if _, err := ts.conn.Write([]byte("XXXX\x03\x00\x00\x00\x00\x05")); err != nil {
		t.Fatal(err)
	}
	var b [1]byte
	if _, err := ts.conn.Read(b[:]); err == nil {
		t.Fatal("expected the server to close the connection")
	}
}

func TestNextClientAcceptedAfterSessionError(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	ts.conn.Write([]byte("XXXX\x03\x00\x00\x00\x00\x05"))
	ts.conn.Close()

	conn2, err := net.Dial("tcp", ts.srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn2.Close()
	sendCommand(t, conn2, cmdQueryDefaultHook, nil)
	if status, _ := readCommandResponse(t, conn2, cmdQueryDefaultHook); status != StatusOK {
		t.Fatalf("query on second client = %d, want ok", status)
	}
}

// TestUploadActivateQuery walks the command plane end to end: upload a valid
// blob, activate it, and confirm the query reply's flags and blob size.
func TestUploadActivateQuery(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	blob := emptyProgram()

	sendCommand(t, ts.conn, cmdUploadBytecode, blob)
	if status, _ := readCommandResponse(t, ts.conn, cmdUploadBytecode); status != StatusOK {
		t.Fatalf("upload status = %d, want ok", status)
	}

	sendCommand(t, ts.conn, cmdActivateShader, nil)
	if status, _ := readCommandResponse(t, ts.conn, cmdActivateShader); status != StatusOK {
		t.Fatalf("activate status = %d, want ok", status)
	}

	sendCommand(t, ts.conn, cmdQueryDefaultHook, nil)
	status, body := readCommandResponse(t, ts.conn, cmdQueryDefaultHook)
	if status != StatusOK {
		t.Fatalf("query status = %d, want ok", status)
	}
	if len(body) != 20 {
		t.Fatalf("query payload = %d bytes, want 20", len(body))
	}
	if body[0] != 0 || body[1] != 1 || body[2] != 1 || body[3] != 0 {
		t.Fatalf("flags = %v, want {persisted=0, uploaded=1, active=1, faulted=0}", body[0:4])
	}
	if got := binary.BigEndian.Uint32(body[4:8]); got != uint32(len(blob)) {
		t.Fatalf("blob size = %d, want %d", got, len(blob))
	}
}

func TestActivateWithoutUploadNotReady(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	sendCommand(t, ts.conn, cmdActivateShader, nil)
	if status, _ := readCommandResponse(t, ts.conn, cmdActivateShader); status != StatusNotReady {
		t.Fatalf("activate status = %d, want not_ready", status)
	}
}

func TestUploadInvalidBlobVMError(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	sendCommand(t, ts.conn, cmdUploadBytecode, []byte("not bytecode"))
	if status, _ := readCommandResponse(t, ts.conn, cmdUploadBytecode); status != StatusVMError {
		t.Fatalf("upload status = %d, want vm_error", status)
	}
	ts.state.Lock()
	uploaded, active := ts.state.HasUploadedProgram, ts.state.Active
	ts.state.Unlock()
	if uploaded || active {
		t.Fatalf("uploaded=%v active=%v after failed upload, want both false", uploaded, active)
	}
}

func TestUnsupportedCommand(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	sendCommand(t, ts.conn, 42, nil)
	if status, _ := readCommandResponse(t, ts.conn, 42); status != StatusUnsupportedCmd {
		t.Fatalf("status = %d, want unsupported_cmd", status)
	}
}

func TestOversizedCommandPayloadDrainedTooLarge(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	big := make([]byte, vm.MaxBytecodeBlob+1024)
	sendCommand(t, ts.conn, cmdUploadBytecode, big)
	if status, _ := readCommandResponse(t, ts.conn, cmdUploadBytecode); status != StatusTooLarge {
		t.Fatalf("status = %d, want too_large", status)
	}

	// The payload was drained, so the session survives.
	sendCommand(t, ts.conn, cmdQueryDefaultHook, nil)
	if status, _ := readCommandResponse(t, ts.conn, cmdQueryDefaultHook); status != StatusOK {
		t.Fatalf("follow-up query = %d, want ok", status)
	}
}

func TestSetQueryClearDefaultHook(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	sendCommand(t, ts.conn, cmdUploadBytecode, emptyProgram())
	readCommandResponse(t, ts.conn, cmdUploadBytecode)

	sendCommand(t, ts.conn, cmdSetDefaultHook, nil)
	if status, _ := readCommandResponse(t, ts.conn, cmdSetDefaultHook); status != StatusOK {
		t.Fatalf("set_default status = %d, want ok", status)
	}

	sendCommand(t, ts.conn, cmdQueryDefaultHook, nil)
	_, body := readCommandResponse(t, ts.conn, cmdQueryDefaultHook)
	if body[0] != 1 {
		t.Fatalf("persisted flag = %d after set_default, want 1", body[0])
	}

	sendCommand(t, ts.conn, cmdClearDefaultHook, nil)
	if status, _ := readCommandResponse(t, ts.conn, cmdClearDefaultHook); status != StatusOK {
		t.Fatalf("clear_default status = %d, want ok", status)
	}
	sendCommand(t, ts.conn, cmdQueryDefaultHook, nil)
	_, body = readCommandResponse(t, ts.conn, cmdQueryDefaultHook)
	if body[0] != 0 {
		t.Fatalf("persisted flag = %d after clear_default, want 0", body[0])
	}
}

func TestSetDefaultHookWithoutUploadNotReady(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	sendCommand(t, ts.conn, cmdSetDefaultHook, nil)
	if status, _ := readCommandResponse(t, ts.conn, cmdSetDefaultHook); status != StatusNotReady {
		t.Fatalf("set_default status = %d, want not_ready", status)
	}
}

func TestActivateNativeAndStop(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	sendCommand(t, ts.conn, cmdActivateNativeShader, nil)
	if status, _ := readCommandResponse(t, ts.conn, cmdActivateNativeShader); status != StatusOK {
		t.Fatalf("activate_native status = %d, want ok", status)
	}
	ts.state.Lock()
	active, source := ts.state.Active, ts.state.Source
	ts.state.Unlock()
	if !active || source != serverstate.SourceNative {
		t.Fatalf("active=%v source=%d, want active native", active, source)
	}

	sendCommand(t, ts.conn, cmdStopShader, nil)
	if status, _ := readCommandResponse(t, ts.conn, cmdStopShader); status != StatusOK {
		t.Fatalf("stop status = %d, want ok", status)
	}
	ts.state.Lock()
	active = ts.state.Active
	ts.state.Unlock()
	if active {
		t.Fatal("shader still active after STOP_SHADER")
	}
	if err := ts.srv.pipeline.Deinit(); err != nil {
		t.Fatal(err)
	}
	if ts.tx.callCount() == 0 {
		t.Fatal("STOP_SHADER did not push a black frame")
	}
}

func TestUploadFirmwareWritesImage(t *testing.T) {
	ts := newTestStack(t, smallPanel())
	image := bytes.Repeat([]byte{0xAB}, 10_000)
	sendCommand(t, ts.conn, cmdUploadFirmware, image)
	if status, _ := readCommandResponse(t, ts.conn, cmdUploadFirmware); status != StatusOK {
		t.Fatalf("upload_firmware status = %d, want ok", status)
	}
	got, err := os.ReadFile(filepath.Join(ts.otaDir, "ota.img"))
	if err != nil {
		t.Fatalf("read finalized image: %v", err)
	}
	if !bytes.Equal(got, image) {
		t.Fatalf("finalized image is %d bytes, want %d identical bytes", len(got), len(image))
	}
}

func TestRemapLogicalFrame(t *testing.T) {
	lay := layout.Layout{
		Width:             3,
		Height:            2,
		SerpentineColumns: true,
		Segments:          []layout.Segment{{GPIO: "GPIO18", LEDCount: 6}},
	}
	buf := make([]byte, 6*3)
	for i := 0; i < 6; i++ {
		buf[i*3] = byte(i) // tag each pixel by its logical index in the R channel
	}
	out := remapLogicalToPhysical(&lay, buf, 3)
	// Logical idx 1 is (x=1, y=0): odd column, serpentine, so global = 1*2+(2-1-0) = 3.
	if out[3*3] != 1 {
		t.Fatalf("logical pixel 1 landed at R=%d in global 3's slot, want 1", out[3*3])
	}
	// Logical idx 0 is (0,0): global 0.
	if out[0] != 0 {
		t.Fatalf("logical pixel 0 not at global 0")
	}
}
