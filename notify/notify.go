/*
Package notify is the notification collaborator boundary.

PURPOSE:
  After a successful credit, debit, purchase, cancel, or refund the engine
  informs the notification system, fire-and-forget. The ledger never blocks
  on delivery and never retries a failed delivery - a lost notification is
  an annoyance, a blocked ledger is an outage.

IMPLEMENTATIONS:
  LogNotifier writes a log line per event. Real delivery (email, push) is
  owned by an external system and plugs in behind the same interface.

SEE ALSO:
  - ledger/ledger.go:        Emits credit/debit events after commit
  - purchase/coordinator.go: Emits purchase/cancel/refund events
*/
package notify

import (
	"context"
	"log"
)

// EventKind classifies a balance-affecting event.
type EventKind string

const (
	EventCredit   EventKind = "credit"
	EventDebit    EventKind = "debit"
	EventPurchase EventKind = "purchase"
	EventCancel   EventKind = "cancel"
	EventRefund   EventKind = "refund"
)

// Event describes one balance-affecting occurrence worth telling the
// driver about.
type Event struct {
	Kind      EventKind
	SponsorID string
	DriverID  string
	Amount    int64  // points involved, always positive
	Reference string // transaction or purchase id
}

// Notifier delivers events. Implementations must not block the caller on
// downstream delivery; there is deliberately no error return.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// LogNotifier logs each event. Default wiring for dev and tests.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, e Event) {
	log.Printf("[Notify] %s: driver=%s sponsor=%s amount=%d ref=%s",
		e.Kind, e.DriverID, e.SponsorID, e.Amount, e.Reference)
}

// NopNotifier drops every event. Useful in tests that assert on state only.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}
