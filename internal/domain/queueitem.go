package domain

import "time"

// QueueItem wraps the dispatch units built from one request together with
// scheduling and retry bookkeeping. It lives in the delivery queue's pending
// list until processed, rescheduled, or dead-lettered.
type QueueItem struct {
	ID            string
	RequestID     string
	Notifications []DispatchUnit
	Priority      Priority
	Attempts      int
	ScheduledFor  time.Time
	CreatedAt     time.Time
}

// RecipientCount sums the addressable targets: devices for individual units,
// one per topic unit.
func (q *QueueItem) RecipientCount() int {
	if q == nil {
		return 0
	}
	count := 0
	for i := range q.Notifications {
		if q.Notifications[i].DeliveryType == DeliveryTopic {
			count++
			continue
		}
		count += len(q.Notifications[i].Devices)
	}
	return count
}

// DeadLetter is a terminally-failed queue item kept for manual inspection.
// Dead letters are never reprocessed automatically.
type DeadLetter struct {
	Item          QueueItem
	FailureReason string
	FailedAt      time.Time
}
