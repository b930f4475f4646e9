// Package dist relays pipeline events to remote subscribers over TCP.
// Each event travels as one length-prefixed frame of canonical CBOR,
// identical byte for byte to what the journal stores.
package dist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/molt/events"
)

// maxFrameSize caps a frame's payload. Events are small; anything
// larger than this is a corrupt or hostile stream.
const maxFrameSize = 1 << 20

// acceptRetryDelay is the pause before retrying a failed Accept, so a
// persistent fault cannot spin the accept loop.
var acceptRetryDelay = 100 * time.Millisecond

// ErrFrameTooLarge is returned when a frame declares a payload beyond
// maxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// Relay is a broadcast server for pipeline events. It implements
// events.Emitter: every emitted event is framed and written to all
// connected subscribers. A subscriber that stops reading is dropped;
// subscribers never slow the pipeline down beyond their socket buffers.
type Relay struct {
	ln  net.Listener
	log commonlog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	done  chan struct{}
}

// Listen starts a relay on addr ("host:port"; ":0" picks a free port).
func Listen(addr string) (*Relay, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dist: listen on %s: %w", addr, err)
	}
	r := &Relay{
		ln:    ln,
		log:   commonlog.GetLogger("molt.relay"),
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}
	go r.acceptLoop()
	return r, nil
}

// Addr returns the listener's address.
func (r *Relay) Addr() net.Addr {
	return r.ln.Addr()
}

// Close stops accepting subscribers and drops current ones.
func (r *Relay) Close() error {
	select {
	case <-r.done:
		return nil
	default:
	}
	close(r.done)
	err := r.ln.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.conns {
		conn.Close()
	}
	r.conns = make(map[net.Conn]struct{})
	return err
}

// Emit implements events.Emitter. A write failure drops that
// subscriber; the event still reaches the rest.
func (r *Relay) Emit(e events.Event) {
	payload, err := events.Marshal(e)
	if err != nil {
		r.log.Errorf("dropping %s event for %s: %v", e.Type, e.Class, err)
		return
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.conns {
		if _, err := conn.Write(frame); err != nil {
			r.log.Infof("dropping subscriber %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			delete(r.conns, conn)
		}
	}
}

// Subscribers returns the current subscriber count.
func (r *Relay) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Relay) acceptLoop() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient failures (fd exhaustion, aborted handshakes)
			// must not end subscriber admission for good.
			r.log.Errorf("accept: %v", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		r.mu.Lock()
		r.conns[conn] = struct{}{}
		r.mu.Unlock()
		r.log.Infof("subscriber connected: %s", conn.RemoteAddr())
	}
}

// ReadFrame reads one framed event from a subscriber connection. It
// blocks until a full frame arrives, the stream ends (io.EOF), or the
// frame is oversized.
func ReadFrame(rd io.Reader) (events.Event, error) {
	var header [4]byte
	if _, err := io.ReadFull(rd, header[:]); err != nil {
		return events.Event{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return events.Event{}, fmt.Errorf("dist: %w: %d bytes", ErrFrameTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(rd, payload); err != nil {
		return events.Event{}, fmt.Errorf("dist: short frame: %w", err)
	}
	return events.Unmarshal(payload)
}
