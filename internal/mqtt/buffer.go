package mqtt

import "github.com/sweeney/pump-doser/internal/logging"

// DefaultBufferSize is how many messages are held while disconnected.
const DefaultBufferSize = 100

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// Not safe for concurrent use; RealClient guards it with its mutex.
type ringBuffer struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	dropped  int // messages overwritten since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
	}
}

// push appends msg, overwriting the oldest entry when full.
func (r *ringBuffer) push(msg bufferedMsg) {
	if r.count == r.capacity {
		if r.dropped == 0 {
			logging.Warn("mqtt buffer full, dropping oldest", "capacity", r.capacity)
		}
		r.dropped++
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
}

// drainAll returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	if r.dropped > 0 {
		logging.Info("mqtt buffer drained", "replayed", r.count, "dropped", r.dropped)
	}
	r.count = 0
	r.head = 0
	r.dropped = 0
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
