// Package broadcast pushes tagged, MessagePack-serialized reduction
// results to remote viewers over a ZMQ PUB socket.
//
// The socket keeps at most one outgoing message per queue slot: when the
// collector produces faster than subscribers consume, stale messages are
// dropped (latest wins). Slow viewers can therefore never backpressure the
// master node.
package broadcast

import (
	"context"
	"fmt"
	"net"

	"github.com/go-zeromq/zmq4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/banshee-data/bragg.report/internal/monitoring"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
)

// DefaultPort is the publish port used when the configuration names none.
const DefaultPort = 12321

// Sender is the collector-facing broadcast surface.
type Sender interface {
	Send(tag string, payload interface{}) error
}

type envelope struct {
	tag     string
	payload []byte
}

// Publisher is a ZMQ PUB socket with a depth-1 latest-wins send queue.
type Publisher struct {
	sock   zmq4.Socket
	queue  chan envelope
	done   chan struct{}
	cancel context.CancelFunc
}

// AutodetectIP returns the local address the host would use to reach an
// external network, by opening a UDP socket toward an unreachable public
// address and reading its local endpoint. No traffic is sent.
func AutodetectIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", omerr.Wrap(omerr.KindTransport, err, "cannot autodetect the broadcast IP address")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// NewPublisher binds a PUB socket on host:port. An empty host autodetects
// the local IP address; a zero port uses DefaultPort. Bind failures are
// fatal transport errors.
func NewPublisher(ctx context.Context, host string, port int) (*Publisher, error) {
	if host == "" {
		ip, err := AutodetectIP()
		if err != nil {
			return nil, err
		}
		host = ip
	}
	if port == 0 {
		port = DefaultPort
	}

	ctx, cancel := context.WithCancel(ctx)
	sock := zmq4.NewPub(ctx)
	endpoint := fmt.Sprintf("tcp://%s:%d", host, port)
	if err := sock.Listen(endpoint); err != nil {
		cancel()
		return nil, omerr.Wrap(omerr.KindTransport, err, "cannot bind the broadcast socket to %s", endpoint)
	}
	monitoring.Logf("binding to %s", endpoint)

	p := &Publisher{
		sock:   sock,
		queue:  make(chan envelope, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go p.run()
	return p, nil
}

func (p *Publisher) run() {
	defer close(p.done)
	for env := range p.queue {
		msg := zmq4.NewMsgFrom([]byte(env.tag), env.payload)
		if err := p.sock.Send(msg); err != nil {
			// A transient send failure only costs the one message.
			monitoring.Warnf("broadcast send failed for tag %q: %v", env.tag, err)
		}
	}
}

// Send serializes the payload and enqueues it under the tag. If the queue
// already holds an unsent message it is replaced.
func (p *Publisher) Send(tag string, payload interface{}) error {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return omerr.Wrap(omerr.KindTransport, err, "cannot serialize payload for tag %q", tag)
	}
	env := envelope{tag: tag, payload: raw}
	for {
		select {
		case p.queue <- env:
			return nil
		default:
		}
		// Queue full: evict the stale message and retry.
		select {
		case <-p.queue:
		default:
		}
	}
}

// Close drains the queue and releases the socket.
func (p *Publisher) Close() error {
	close(p.queue)
	<-p.done
	p.cancel()
	return p.sock.Close()
}
