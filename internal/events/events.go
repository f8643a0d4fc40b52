// Package events fans fleet state changes out to other systems.
package events

import (
	"context"
	"sync"
	"time"
)

type Kind string

const (
	DeviceUpserted        Kind = "device.upserted"
	DeviceDeleted         Kind = "device.deleted"
	DeviceMaintenance     Kind = "device.maintenance"
	CommandEnqueued       Kind = "command.enqueued"
	CommandFinished       Kind = "command.finished"
	ProvisioningRedeemed  Kind = "provisioning.redeemed"
	ProvisioningCompleted Kind = "provisioning.completed"
)

type Event struct {
	Kind         Kind      `json:"kind"`
	SerialNumber string    `json:"serial_number,omitempty"`
	Time         time.Time `json:"time"`
	Data         any       `json:"data,omitempty"`
}

// Publisher delivers events. Callers treat delivery as best effort: a failed
// publish is logged and never undoes the state change it describes.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds lists the kinds of recorded events in publish order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]Kind, len(r.events))
	for i, event := range r.events {
		kinds[i] = event.Kind
	}
	return kinds
}
