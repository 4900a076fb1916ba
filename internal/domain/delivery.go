package domain

import "time"

// DeliveryRecord is the audit row written for every transport send outcome.
// Records are diagnostic: the queue writes them best-effort and never fails
// an item over a record write.
type DeliveryRecord struct {
	ID                string
	RequestID         string
	QueueID           string
	TemplateID        string
	DeliveryType      DeliveryType
	UserID            string
	DeviceID          string
	TopicName         string
	Attempt           int
	Success           bool
	ProviderMessageID string
	Error             string
	CreatedAt         time.Time
}
