package propagation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/reports"
)

// Topic names a kind of change notification
type Topic string

const (
	TopicActivityCreated      Topic = "activity.created"
	TopicActivityUpdated      Topic = "activity.updated"
	TopicFactorVersionChanged Topic = "factor.version_changed"
	TopicReportRequested      Topic = "report.requested"
	TopicResultCalculated     Topic = "result.calculated"
	TopicReportGenerated      Topic = "report.generated"
)

// Payload is the typed body of a notification
type Payload interface {
	Topic() Topic
}

// Notification is one message on the bus. ID identifies the delivery for
// idempotency; CausedBy links a cascaded notification to its trigger.
type Notification struct {
	ID          uuid.UUID  `json:"id"`
	Topic       Topic      `json:"topic"`
	Payload     Payload    `json:"payload"`
	CausedBy    *uuid.UUID `json:"caused_by,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// NewNotification wraps a payload in a notification with a fresh ID
func NewNotification(payload Payload) Notification {
	return Notification{
		ID:          uuid.New(),
		Topic:       payload.Topic(),
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}
}

// Caused returns a notification for payload caused by n
func (n Notification) Caused(payload Payload) Notification {
	next := NewNotification(payload)
	id := n.ID
	next.CausedBy = &id
	return next
}

// UnmarshalJSON decodes the payload into the struct its topic names
func (n *Notification) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          uuid.UUID       `json:"id"`
		Topic       Topic           `json:"topic"`
		Payload     json.RawMessage `json:"payload"`
		CausedBy    *uuid.UUID      `json:"caused_by,omitempty"`
		PublishedAt time.Time       `json:"published_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	payload, err := DecodePayload(raw.Topic, raw.Payload)
	if err != nil {
		return err
	}
	n.ID = raw.ID
	n.Topic = raw.Topic
	n.Payload = payload
	n.CausedBy = raw.CausedBy
	n.PublishedAt = raw.PublishedAt
	return nil
}

// DecodePayload decodes a JSON payload for the given topic
func DecodePayload(topic Topic, data []byte) (Payload, error) {
	var p Payload
	switch topic {
	case TopicActivityCreated, TopicActivityUpdated:
		p = &ActivityChanged{}
	case TopicFactorVersionChanged:
		p = &FactorVersionChanged{}
	case TopicReportRequested:
		p = &ReportRequested{}
	case TopicResultCalculated:
		p = &ResultCalculated{}
	case TopicReportGenerated:
		p = &ReportGenerated{}
	default:
		return nil, fmt.Errorf("unknown topic %q", topic)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", topic, err)
	}
	return p, nil
}

// =====================================================
// Payloads
// =====================================================

// ActivityChanged is raised when an activity is created or edited, and when
// a factor change requires its result to be recalculated
type ActivityChanged struct {
	ActivityID uuid.UUID `json:"activity_id"`
	CompanyID  uuid.UUID `json:"company_id"`
	Revision   int       `json:"revision"`
	Created    bool      `json:"created"`
	Reason     string    `json:"reason,omitempty"`
}

func (p *ActivityChanged) Topic() Topic {
	if p.Created {
		return TopicActivityCreated
	}
	return TopicActivityUpdated
}

// FactorVersionChanged is raised when a new factor version replaces an old one
type FactorVersionChanged struct {
	OldFactorID     uuid.UUID `json:"old_factor_id"`
	NewFactorID     uuid.UUID `json:"new_factor_id"`
	OldVersion      string    `json:"old_version"`
	NewVersion      string    `json:"new_version"`
	AffectsExisting bool      `json:"affects_existing"`
}

func (p *FactorVersionChanged) Topic() Topic { return TopicFactorVersionChanged }

// ReportRequested asks for a report to be generated
type ReportRequested struct {
	Request reports.GenerateReportRequest `json:"request"`
}

func (p *ReportRequested) Topic() Topic { return TopicReportRequested }

// ResultCalculated is raised after a new result version is committed
type ResultCalculated struct {
	ResultID         uuid.UUID        `json:"result_id"`
	ActivityID       uuid.UUID        `json:"activity_id"`
	CompanyID        uuid.UUID        `json:"company_id"`
	Scope            emissions.Scope  `json:"scope"`
	Period           emissions.Period `json:"period"`
	Version          int              `json:"version"`
	EmissionTons     float64          `json:"emission_tons"`
	PreviousResultID *uuid.UUID       `json:"previous_result_id,omitempty"`
}

func (p *ResultCalculated) Topic() Topic { return TopicResultCalculated }

// ReportGenerated announces a persisted report version
type ReportGenerated struct {
	ReportID     uuid.UUID              `json:"report_id"`
	CompanyID    uuid.UUID              `json:"company_id"`
	Framework    frameworks.FrameworkID `json:"framework"`
	Format       frameworks.Format      `json:"format"`
	Period       emissions.Period       `json:"period"`
	Version      int                    `json:"version"`
	Completeness float64                `json:"completeness"`
}

func (p *ReportGenerated) Topic() Topic { return TopicReportGenerated }
