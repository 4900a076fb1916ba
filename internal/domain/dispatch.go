package domain

import "strings"

// DeliveryType distinguishes per-user fan-out from topic broadcast.
type DeliveryType string

const (
	DeliveryIndividual DeliveryType = "INDIVIDUAL"
	DeliveryTopic      DeliveryType = "TOPIC"
)

func (t DeliveryType) String() string { return string(t) }

// RenderedContent is the final interpolated push content.
type RenderedContent struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Action string `json:"action,omitempty"`
}

// HasUnresolvedPlaceholders reports whether any {{...}} token survived
// rendering. The builder guarantees this never holds for emitted units.
func (c RenderedContent) HasUnresolvedPlaceholders() bool {
	for _, s := range []string{c.Title, c.Body, c.Action} {
		if strings.Contains(s, "{{") {
			return true
		}
	}
	return false
}

// DispatchUnit is one fully-resolved, ready-to-send notification. Individual
// units carry the user and their eligible devices; topic units carry only the
// topic name.
type DispatchUnit struct {
	DeliveryType DeliveryType
	UserID       string
	Devices      []Device
	TopicName    string
	TemplateID   string
	Content      RenderedContent
	// Variables keeps the interpolated values for audit.
	Variables map[string]string
	Priority  Priority
}
