package broadcast

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

// queueOnlyPublisher returns a publisher whose writer goroutine is not
// running, so the queue contents can be inspected directly.
func queueOnlyPublisher() *Publisher {
	return &Publisher{queue: make(chan envelope, 1)}
}

func TestSend_LatestWins(t *testing.T) {
	p := queueOnlyPublisher()

	if err := p.Send(TagData, "first"); err != nil {
		t.Fatal(err)
	}
	if err := p.Send(TagData, "second"); err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-p.queue:
		var got string
		if err := msgpack.Unmarshal(env.payload, &got); err != nil {
			t.Fatal(err)
		}
		if got != "second" {
			t.Errorf("queued payload = %q, want the latest message", got)
		}
	default:
		t.Fatal("queue is empty")
	}

	select {
	case <-p.queue:
		t.Fatal("queue held more than one message")
	default:
	}
}

func TestSend_TagPreserved(t *testing.T) {
	p := queueOnlyPublisher()
	if err := p.Send(TagFrameData, []int{1}); err != nil {
		t.Fatal(err)
	}
	env := <-p.queue
	if env.tag != TagFrameData {
		t.Errorf("tag = %q, want %q", env.tag, TagFrameData)
	}
}

func TestSend_SerializationFailure(t *testing.T) {
	p := queueOnlyPublisher()
	if err := p.Send(TagData, func() {}); err == nil {
		t.Fatal("expected serialization error for unencodable payload")
	}
}
