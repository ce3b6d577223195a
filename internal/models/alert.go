package models

import "time"

// Subscriber is a notification directory entry, keyed by normalized handle.
type Subscriber struct {
	Handle   string    `json:"handle"`
	ChatID   int64     `json:"chat_id"`
	LinkedAt time.Time `json:"linked_at"`
}

// AlertRecord is one entry in the append-only dispatch log, written once
// per triggered burst or manual test.
type AlertRecord struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	SubscriberCount int       `json:"subscriber_count"`
	SentAt          time.Time `json:"sent_at"`
}
