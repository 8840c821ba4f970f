package bt

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/lowaak/cable-trainer/internal/go_func_utils"
)

var (
	// ErrDisconnected fails operations queued or in flight when the link
	// drops, and submissions made on a dead link.
	ErrDisconnected = errors.New("bt: link disconnected")

	// ErrQueueClosed fails submissions made after the queue shut down.
	ErrQueueClosed = errors.New("bt: operation queue closed")
)

// OpResult is the outcome of one queued operation. Data is only set for
// reads.
type OpResult struct {
	Data []byte
	Err  error
}

type opKind int

const (
	opWrite opKind = iota
	opWriteNoResponse
	opRead
	opSubscribe
	opUnsubscribe
)

type operation struct {
	kind        opKind
	serviceUUID string
	charUUID    string
	payload     []byte
	callback    func(buf []byte)
	result      chan OpResult
}

// OpQueue serializes every GATT operation on one link. The underlying
// stack fails with "operation already in progress" when a second request
// is issued before the first completes, so exactly one operation is in
// flight at a time and everything else waits in submission order.
//
// Notification callbacks registered through EnqueueSubscribe are invoked
// by the BLE stack directly; only the subscription itself goes through
// the queue.
type OpQueue struct {
	device Device
	logger *log.Logger

	mu     sync.Mutex
	ops    chan operation
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// opQueueDepth bounds how many operations may wait. Two pollers plus user
// commands never come close; hitting the bound means something is stuck.
const opQueueDepth = 64

// NewOpQueue creates a queue over device and starts its worker.
func NewOpQueue(device Device, logger *log.Logger) *OpQueue {
	if device == nil {
		panic("bt: device cannot be nil")
	}
	if logger == nil {
		panic("bt: logger cannot be nil")
	}
	q := &OpQueue{
		device: device,
		logger: logger,
		ops:    make(chan operation, opQueueDepth),
		done:   make(chan struct{}),
	}
	q.wg.Add(1)
	go_func_utils.SafeGoNamed(logger, "bt-op-queue", func() { q.run() })
	return q
}

// EnqueueWrite queues a characteristic write. The returned channel yields
// exactly one result.
func (q *OpQueue) EnqueueWrite(serviceUUID, charUUID string, payload []byte, withResponse bool) <-chan OpResult {
	kind := opWrite
	if !withResponse {
		kind = opWriteNoResponse
	}
	return q.enqueue(operation{
		kind:        kind,
		serviceUUID: serviceUUID,
		charUUID:    charUUID,
		payload:     payload,
	})
}

// EnqueueRead queues a characteristic read.
func (q *OpQueue) EnqueueRead(serviceUUID, charUUID string) <-chan OpResult {
	return q.enqueue(operation{
		kind:        opRead,
		serviceUUID: serviceUUID,
		charUUID:    charUUID,
	})
}

// EnqueueSubscribe queues a notification subscription; callback fires for
// every notification on the characteristic until unsubscribed.
func (q *OpQueue) EnqueueSubscribe(serviceUUID, charUUID string, callback func(buf []byte)) <-chan OpResult {
	return q.enqueue(operation{
		kind:        opSubscribe,
		serviceUUID: serviceUUID,
		charUUID:    charUUID,
		callback:    callback,
	})
}

// EnqueueUnsubscribe queues removal of a notification subscription.
func (q *OpQueue) EnqueueUnsubscribe(serviceUUID, charUUID string) <-chan OpResult {
	return q.enqueue(operation{
		kind:        opUnsubscribe,
		serviceUUID: serviceUUID,
		charUUID:    charUUID,
	})
}

func (q *OpQueue) enqueue(op operation) <-chan OpResult {
	op.result = make(chan OpResult, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		op.result <- OpResult{Err: ErrQueueClosed}
		return op.result
	}
	select {
	case q.ops <- op:
		q.mu.Unlock()
	default:
		q.mu.Unlock()
		op.result <- OpResult{Err: fmt.Errorf("bt: operation queue full (%d pending)", opQueueDepth)}
	}
	return op.result
}

func (q *OpQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case op := <-q.ops:
			op.result <- q.execute(op)
		}
	}
}

func (q *OpQueue) execute(op operation) OpResult {
	if !q.device.IsConnected() {
		return OpResult{Err: ErrDisconnected}
	}
	switch op.kind {
	case opWrite:
		return OpResult{Err: q.device.WriteCharacteristic(op.serviceUUID, op.charUUID, op.payload)}
	case opWriteNoResponse:
		return OpResult{Err: q.device.WriteCharacteristicWithoutResponse(op.serviceUUID, op.charUUID, op.payload)}
	case opRead:
		data, err := q.device.ReadCharacteristic(op.serviceUUID, op.charUUID)
		return OpResult{Data: data, Err: err}
	case opSubscribe:
		return OpResult{Err: q.device.EnableNotifications(op.serviceUUID, op.charUUID, op.callback)}
	case opUnsubscribe:
		return OpResult{Err: q.device.DisableNotifications(op.serviceUUID, op.charUUID)}
	default:
		return OpResult{Err: fmt.Errorf("bt: unknown operation kind %d", op.kind)}
	}
}

// FailPending fails every queued operation with ErrDisconnected and leaves
// the queue running. Called when the link drops; new submissions then fail
// individually until the link is back.
func (q *OpQueue) FailPending() {
	n := q.drain()
	if n > 0 {
		q.logger.Printf("OpQueue: failed %d pending operations after link loss", n)
	}
}

// Close permanently shuts the queue down, failing anything still pending.
func (q *OpQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
	q.drain()
}

func (q *OpQueue) drain() int {
	n := 0
	for {
		select {
		case op := <-q.ops:
			op.result <- OpResult{Err: ErrDisconnected}
			n++
		default:
			return n
		}
	}
}
