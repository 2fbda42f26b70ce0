package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventBalanceUpdate       EventType = "BALANCE_UPDATE"
	EventDepositSubmitted    EventType = "DEPOSIT_SUBMITTED"
	EventDepositApproved     EventType = "DEPOSIT_APPROVED"
	EventDepositRejected     EventType = "DEPOSIT_REJECTED"
	EventWithdrawalSubmitted EventType = "WITHDRAWAL_SUBMITTED"
	EventWithdrawalApproved  EventType = "WITHDRAWAL_APPROVED"
	EventWithdrawalRejected  EventType = "WITHDRAWAL_REJECTED"
	EventPlanActivated       EventType = "PLAN_ACTIVATED"
	EventPlanExpired         EventType = "PLAN_EXPIRED"
	EventPlanAccrued         EventType = "PLAN_ACCRUED"
	EventCheckin             EventType = "CHECKIN"
	EventWheelPrize          EventType = "WHEEL_PRIZE"
	EventAccountStatus       EventType = "ACCOUNT_STATUS_CHANGED"
	EventSettingsReloaded    EventType = "SETTINGS_RELOADED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Delivery is asynchronous so a
// slow consumer cannot hold up a ledger transaction.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}
