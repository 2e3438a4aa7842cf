package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// RequestHandler is whatever can execute a dequeued bot_response —
// normally *outgoing.OutgoingEventProcessor. Kept as an interface here
// (rather than importing pkg/outgoing directly) so the queue/transport
// plumbing has no dependency on the handler's own dependencies.
type RequestHandler interface {
	Handle(ctx context.Context, eventType string, data json.RawMessage) (result any, err error)
}

type queuedRequest struct {
	requestID string
	eventType string
	data      json.RawMessage
}

// EventBus is the single-consumer FIFO queue described in spec §4.7:
// every bot_response is assigned a request_id at enqueue, processed
// strictly in arrival order by one worker, with cancel-before-dispatch
// support and a fail-everything drain on shutdown.
type EventBus struct {
	adapterType string
	transport   Transport
	handler     RequestHandler

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []*queuedRequest
	inFlight  string // request_id currently being handled, "" if idle
	stopping  bool

	wg sync.WaitGroup
}

// New constructs an EventBus. Call Start to begin the receive and
// worker loops.
func New(adapterType string, transport Transport, handler RequestHandler) *EventBus {
	b := &EventBus{
		adapterType: adapterType,
		transport:   transport,
		handler:     handler,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Start launches the receive loop (reading bot_response/cancel_request
// off the transport) and the single worker loop. It returns
// immediately; both loops run until ctx is cancelled or Stop is called.
func (b *EventBus) Start(ctx context.Context) {
	b.wg.Add(2)
	go b.receiveLoop(ctx)
	go b.workerLoop(ctx)
}

// Stop signals shutdown, fails every still-queued request, wakes the
// worker so it observes stopping, and waits up to timeout for any
// in-flight handler call to finish before abandoning it — mirroring
// waitForProcessing's bounded-wait-then-abandon shape.
func (b *EventBus) Stop(timeout time.Duration) {
	b.mu.Lock()
	b.stopping = true
	drained := b.queue
	b.queue = nil
	b.cond.Broadcast()
	b.mu.Unlock()

	for _, r := range drained {
		b.emitFailed(r.requestID, "event bus shutting down")
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("event bus stop timed out waiting for in-flight work")
	}

	_ = b.transport.Close()
}

// receiveLoop decodes one inbound frame at a time and routes it.
func (b *EventBus) receiveLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := b.transport.Receive()
		if err != nil {
			b.mu.Lock()
			stopping := b.stopping
			b.mu.Unlock()
			if stopping {
				return
			}
			slog.Error("event socket receive failed", "error", err)
			return
		}

		var env incomingEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Error("malformed event-socket frame", "error", err)
			continue
		}

		switch env.Type {
		case KindBotResponse:
			b.enqueue(env.EventType, env.Data)
		case KindCancelRequest:
			b.cancel(env.RequestID)
		default:
			slog.Warn("unknown event-socket frame type", "type", env.Type)
		}
	}
}

// enqueue assigns a request_id (the caller for a live transport is the
// framework; tests may supply a pre-assigned one via EnqueueWithID) and
// emits request_queued.
func (b *EventBus) enqueue(eventType string, data json.RawMessage) string {
	return b.EnqueueWithID(newRequestID(), eventType, data)
}

// EnqueueWithID adds a request to the tail of the queue under a known
// request_id — exported so tests can assert ordering/cancellation with
// predictable ids instead of random UUIDs.
func (b *EventBus) EnqueueWithID(requestID, eventType string, data json.RawMessage) string {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		b.emitFailed(requestID, "event bus shutting down")
		return requestID
	}
	b.queue = append(b.queue, &queuedRequest{requestID: requestID, eventType: eventType, data: data})
	b.cond.Signal()
	b.mu.Unlock()

	b.emit(lifecycleEvent{Type: KindRequestQueued, AdapterType: b.adapterType, RequestID: requestID})
	return requestID
}

// cancel implements spec §4.7's cancel_request: remove from the queue
// if still waiting (success), otherwise fail — covers both "in flight"
// and "unknown id" per the spec's stated behavior.
func (b *EventBus) cancel(requestID string) {
	b.mu.Lock()
	for i, r := range b.queue {
		if r.requestID == requestID {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			b.mu.Unlock()
			b.emit(lifecycleEvent{Type: KindRequestSuccess, AdapterType: b.adapterType, RequestID: requestID})
			return
		}
	}
	b.mu.Unlock()
	b.emitFailed(requestID, "request not queued (in flight or unknown)")
}

// workerLoop pulls the head of the queue and dispatches it to the
// handler, one request at a time, preserving global FIFO order (spec
// §5: "Framework requests are processed strictly FIFO globally").
func (b *EventBus) workerLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.stopping {
			b.cond.Wait()
		}
		if b.stopping && len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		req := b.queue[0]
		b.queue = b.queue[1:]
		b.inFlight = req.requestID
		b.mu.Unlock()

		result, err := b.handler.Handle(ctx, req.eventType, req.data)

		b.mu.Lock()
		b.inFlight = ""
		b.mu.Unlock()

		if err != nil {
			b.emitFailed(req.requestID, err.Error())
			continue
		}
		b.emit(lifecycleEvent{Type: KindRequestSuccess, AdapterType: b.adapterType, RequestID: req.requestID, Data: result})
	}
}

func (b *EventBus) emitFailed(requestID, errMsg string) {
	b.emit(lifecycleEvent{Type: KindRequestFailed, AdapterType: b.adapterType, RequestID: requestID, Error: errMsg})
}

func (b *EventBus) emit(v any) {
	if err := b.transport.Send(v); err != nil {
		slog.Error("failed to send event-socket frame", "error", err)
	}
}

// EmitBotRequest sends one normalized platform event toward the
// framework (spec §6.1's adapter -> framework bot_request).
func (b *EventBus) EmitBotRequest(eventType string, data any) {
	b.emit(BotRequest{Type: KindBotRequest, AdapterType: b.adapterType, EventType: eventType, Data: data})
}

// EmitConnect/EmitDisconnect are used by the connection monitor.
func (b *EventBus) EmitConnect()    { b.emit(lifecycleEvent{Type: "connect", AdapterType: b.adapterType}) }
func (b *EventBus) EmitDisconnect() { b.emit(lifecycleEvent{Type: "disconnect", AdapterType: b.adapterType}) }
