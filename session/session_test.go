package session

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/picocalc/ninepfs/config"
	"github.com/picocalc/ninepfs/ninep"
	"github.com/picocalc/ninepfs/storage"
	"github.com/picocalc/ninepfs/storage/memdriver"
)

// harness wires a Session to one end of an in-process pipe and drives
// the other end directly, so tests can send raw frames and read raw
// replies without a real socket.
type harness struct {
	t      *testing.T
	client net.Conn
	done   chan error
}

func newHarness(t *testing.T, cfg config.Options) *harness {
	t.Helper()
	client, serverConn := net.Pipe()
	gw := storage.NewGateway(memdriver.New(0), cfg.StorageLockTimeout)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	s := New(1, serverConn, gw, cfg, log.WithField("session", 1))

	h := &harness{t: t, client: client, done: make(chan error, 1)}
	go func() { h.done <- s.Serve() }()
	return h
}

func (h *harness) close() {
	h.client.Close()
	<-h.done
}

func (h *harness) send(msgType uint8, tag uint16, build func(w *ninep.Writer)) {
	h.t.Helper()
	buf := make([]byte, 8192)
	w := ninep.NewWriter(buf)
	build(w)
	frame, err := w.Finalize(msgType, tag)
	require.NoError(h.t, err)
	h.client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err = h.client.Write(frame)
	require.NoError(h.t, err)
}

func (h *harness) recv() ninep.Message {
	h.t.Helper()
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	head := make([]byte, 4)
	_, err := readFull(h.client, head)
	require.NoError(h.t, err)
	size, _ := ninep.PeekSize(head)
	rest := make([]byte, size-4)
	_, err = readFull(h.client, rest)
	require.NoError(h.t, err)
	frame := append(head, rest...)
	msg, err := ninep.Parse(frame)
	require.NoError(h.t, err)
	return msg
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (h *harness) version(t *testing.T) {
	h.send(ninep.Tversion, ninep.NoTag, func(w *ninep.Writer) {
		w.PutU32(8192)
		w.PutString("9P2000.u")
	})
	msg := h.recv()
	require.Equal(t, ninep.Rversion, msg.Type)
}

func (h *harness) attach(t *testing.T, fid uint32) {
	h.send(ninep.Tattach, 1, func(w *ninep.Writer) {
		w.PutU32(fid)
		w.PutU32(ninep.NoFID)
		w.PutString("picocalc")
		w.PutString("")
	})
	msg := h.recv()
	require.Equal(t, ninep.Rattach, msg.Type)
}

func TestSessionVersionThenAttach(t *testing.T) {
	h := newHarness(t, config.Defaults())
	defer h.close()
	h.version(t)
	h.attach(t, 0)
}

func TestSessionRejectsRequestBeforeVersion(t *testing.T) {
	h := newHarness(t, config.Defaults())
	defer h.close()
	h.send(ninep.Tattach, 1, func(w *ninep.Writer) {
		w.PutU32(0)
		w.PutU32(ninep.NoFID)
		w.PutString("picocalc")
		w.PutString("")
	})
	msg := h.recv()
	require.Equal(t, ninep.Rerror, msg.Type)
}

func TestSessionCreateWriteReadBackViaWire(t *testing.T) {
	h := newHarness(t, config.Defaults())
	defer h.close()
	h.version(t)
	h.attach(t, 0)

	h.send(ninep.Tcreate, 2, func(w *ninep.Writer) {
		w.PutU32(0)
		w.PutString("greeting.txt")
		w.PutU32(0)
		w.PutU8(ninep.ORDWR)
	})
	msg := h.recv()
	require.Equal(t, ninep.Rcreate, msg.Type)

	payload := []byte("hello 9p")
	h.send(ninep.Twrite, 3, func(w *ninep.Writer) {
		w.PutU32(0)
		w.PutU64(0)
		w.PutU32(uint32(len(payload)))
		w.PutBytes(payload)
	})
	msg = h.recv()
	require.Equal(t, ninep.Rwrite, msg.Type)
	require.EqualValues(t, len(payload), msg.GetU32())

	h.send(ninep.Tread, 4, func(w *ninep.Writer) {
		w.PutU32(0)
		w.PutU64(0)
		w.PutU32(64)
	})
	msg = h.recv()
	require.Equal(t, ninep.Rread, msg.Type)
	n := msg.GetU32()
	data := msg.GetBytes(int(n))
	require.Equal(t, payload, data)
}

func TestSessionUnknownFidErrors(t *testing.T) {
	h := newHarness(t, config.Defaults())
	defer h.close()
	h.version(t)
	h.attach(t, 0)

	h.send(ninep.Tstat, 5, func(w *ninep.Writer) { w.PutU32(99) })
	msg := h.recv()
	require.Equal(t, ninep.Rerror, msg.Type)
}

func TestSessionFatalFramingErrorClosesConnection(t *testing.T) {
	h := newHarness(t, config.Defaults())
	client := h.client
	defer client.Close()
	// Write an oversized size field directly: 4-byte LE size larger
	// than MaxMessageSize, which must terminate the session rather
	// than wait forever for a frame that will never arrive complete.
	buf := make([]byte, 7)
	buf[0], buf[1], buf[2], buf[3] = 0xFF, 0xFF, 0xFF, 0x7F
	buf[4] = ninep.Tversion
	client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := client.Write(buf)
	require.NoError(t, err)

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate on fatal framing error")
	}
}
