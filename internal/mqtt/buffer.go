package mqtt

import "github.com/rs/zerolog"

// bufferedMsg is a serialized message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while disconnected, oldest first.
// A retained message replaces any retained message already queued for
// its topic, since the broker keeps only the last one. When full, the
// oldest message is dropped and counted against its topic.
// Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	dropped  map[string]int
	log      zerolog.Logger
}

func newOutbox(capacity int, log zerolog.Logger) *outbox {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
		dropped:  make(map[string]int),
		log:      log,
	}
}

func (o *outbox) push(msg bufferedMsg) {
	if msg.retained {
		for i, m := range o.msgs {
			if m.retained && m.topic == msg.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}
	if len(o.msgs) == o.capacity {
		oldest := o.msgs[0]
		if len(o.dropped) == 0 {
			o.log.Warn().Int("capacity", o.capacity).Msg("outbox full, dropping oldest")
		}
		o.dropped[oldest.topic]++
		o.msgs = append(o.msgs[:0], o.msgs[1:]...)
	}
	o.msgs = append(o.msgs, msg)
}

// drain empties the outbox, returning the queued messages in publish
// order and the per-topic count of messages lost to overflow.
func (o *outbox) drain() ([]bufferedMsg, map[string]int) {
	var msgs []bufferedMsg
	if len(o.msgs) > 0 {
		msgs = make([]bufferedMsg, len(o.msgs))
		copy(msgs, o.msgs)
	}
	dropped := o.dropped
	o.msgs = o.msgs[:0]
	o.dropped = make(map[string]int)
	return msgs, dropped
}

func (o *outbox) len() int {
	return len(o.msgs)
}
