package chat

import "sync"

// Single slot mailbox between the input producer and the engine. A message put while another
// one is pending replaces it.
type Mailbox struct {
	mu      sync.Mutex
	pending Message
	full    bool
}

// Create an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Store msg as the pending message. Returns true if a pending message has been replaced.
func (mailbox *Mailbox) Put(msg Message) bool {
	mailbox.mu.Lock()
	defer mailbox.mu.Unlock()
	overwritten := mailbox.full
	mailbox.pending = msg
	mailbox.full = true
	return overwritten
}

// Remove and return the pending message, if any.
func (mailbox *Mailbox) Take() (Message, bool) {
	mailbox.mu.Lock()
	defer mailbox.mu.Unlock()
	if !mailbox.full {
		return Message{}, false
	}
	msg := mailbox.pending
	mailbox.pending = Message{}
	mailbox.full = false
	return msg, true
}

// Return true if a message is waiting to be taken.
func (mailbox *Mailbox) Pending() bool {
	mailbox.mu.Lock()
	defer mailbox.mu.Unlock()
	return mailbox.full
}
