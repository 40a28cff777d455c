// Package dispatch routes forwardables between the two network sides.
// Handlers are keyed by the origin chat address; the handler registered
// under an address posts to the peer network.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"jabagram/internal/model"
	"jabagram/internal/store"
)

// queueCapacity bounds the event queue. A producer that outruns the
// consumer suspends on enqueue; that blocking is the backpressure.
const queueCapacity = 100

// Dispatcher is the single consumer of the forwardable queue.
type Dispatcher struct {
	chats *store.ChatStore
	queue chan model.Forwardable
	out   io.Writer

	mu       sync.Mutex
	handlers map[string]model.ChatHandler
}

// Opts holds parameters for creating a Dispatcher.
type Opts struct {
	Chats *store.ChatStore
	Out   io.Writer // defaults to os.Stdout
}

// New creates a Dispatcher.
func New(opts Opts) (*Dispatcher, error) {
	if opts.Chats == nil {
		return nil, fmt.Errorf("dispatch: chat store is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Dispatcher{
		chats:    opts.Chats,
		queue:    make(chan model.Forwardable, queueCapacity),
		out:      out,
		handlers: make(map[string]model.ChatHandler),
	}, nil
}

// Send enqueues a forwardable. It blocks while the queue is full.
func (d *Dispatcher) Send(ctx context.Context, fw model.Forwardable) error {
	select {
	case d.queue <- fw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddHandler registers the handler that receives events originating at
// address.
func (d *Dispatcher) AddHandler(address string, h model.ChatHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[address] = h
}

// RemoveHandler unregisters the handler for address.
func (d *Dispatcher) RemoveHandler(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, address)
}

// IsBound reports whether address has a registered handler.
func (d *Dispatcher) IsBound(address string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[address]
	return ok
}

// QueueDepth returns the number of queued events.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *Dispatcher) handler(address string) (model.ChatHandler, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.handlers[address]
	return h, ok
}

// Start consumes the queue until ctx is cancelled. Events for one
// destination are dispatched in enqueue order; the network calls themselves
// run on their own goroutines, except Unbridge, which is awaited inline so
// that the handler-map cleanup cannot race events for the same chat.
func (d *Dispatcher) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fw := <-d.queue:
			d.process(ctx, fw)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, fw model.Forwardable) {
	address := fw.TargetChat().Address
	h, ok := d.handler(address)
	if !ok {
		log.Printf("dispatch: unhandled event for chat: %s", address)
		return
	}

	switch v := fw.(type) {
	case *model.Sticker:
		fmt.Fprintf(d.out, "dispatch: sticker [chat=%s file=%s]\n", address, v.FileID)
		go logErr(h.SendSticker(ctx, v))
	case *model.Attachment:
		fmt.Fprintf(d.out, "dispatch: attachment [chat=%s name=%s]\n", address, v.Content)
		go logErr(h.SendAttachment(ctx, v))
	case *model.Message:
		if v.Edit {
			fmt.Fprintf(d.out, "dispatch: edit [chat=%s id=%s]\n", address, v.ID)
			go logErr(h.EditMessage(ctx, v))
		} else {
			fmt.Fprintf(d.out, "dispatch: message [chat=%s id=%s]\n", address, v.ID)
			go logErr(h.SendMessage(ctx, v))
		}
	case *model.Event:
		fmt.Fprintf(d.out, "dispatch: event [chat=%s]\n", address)
		go logErr(h.SendEvent(ctx, v))
	case *model.Unbridge:
		fmt.Fprintf(d.out, "dispatch: unbridge [chat=%s]\n", address)
		logErr(h.Unbridge(ctx))
		d.RemoveHandler(address)
		d.RemoveHandler(h.Address())
		d.chats.Remove(h.Address())
	default:
		log.Printf("dispatch: unknown forwardable %T for chat %s", fw, address)
	}
}

func logErr(err error) {
	if err != nil {
		log.Printf("dispatch: handler: %v", err)
	}
}
