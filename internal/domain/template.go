package domain

import (
	"strings"
	"time"
)

// TemplateStatus represents the lifecycle state of a template record.
type TemplateStatus string

const (
	TemplateStatusActive   TemplateStatus = "ACTIVE"
	TemplateStatusDraft    TemplateStatus = "DRAFT"
	TemplateStatusArchived TemplateStatus = "ARCHIVED"
)

func (s TemplateStatus) String() string { return string(s) }

// Template is a versioned content record. Placeholders use {{name}} token
// syntax; interpolation is literal substitution with no escaping.
type Template struct {
	ID                string         `gorm:"type:varchar(64);primaryKey"`
	Status            TemplateStatus `gorm:"type:varchar(20);not null;default:ACTIVE"`
	TitlePattern      string         `gorm:"type:text;not null"`
	BodyPattern       string         `gorm:"type:text;not null"`
	ActionPattern     string         `gorm:"type:text"`
	RequiredVariables []string       `gorm:"serializer:json;type:jsonb"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (t *Template) IsActive() bool {
	return t != nil && t.Status == TemplateStatusActive
}

// MissingVariables returns the required variable names absent from vars,
// in declaration order.
func (t *Template) MissingVariables(vars map[string]string) []string {
	if t == nil {
		return nil
	}
	var missing []string
	for _, name := range t.RequiredVariables {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
