package notifications

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WebSocket message types
const (
	WSMessageTypeStatus          = "status"
	WSMessageTypeSubscribe       = "subscribe"
	WSMessageTypeUnsubscribe     = "unsubscribe"
	WSMessageTypeInventoryStale  = "inventory.stale"
	WSMessageTypeReportGenerated = "report.generated"
)

// WebSocketMessage represents WebSocket message format
type WebSocketMessage struct {
	Type      string         `json:"type"`
	Data      datatypes.JSON `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Channel   string         `json:"channel,omitempty"`
	Target    string         `json:"target,omitempty"` // company id the message concerns
}

// NewMessage builds a message with the payload marshalled as its data
func NewMessage(msgType string, target uuid.UUID, payload any) (WebSocketMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return WebSocketMessage{}, err
	}
	return WebSocketMessage{
		Type:      msgType,
		Data:      datatypes.JSON(data),
		Timestamp: time.Now().UTC(),
		Channel:   "company",
		Target:    target.String(),
	}, nil
}

// SubscribeRequest is the data of a subscribe or unsubscribe message
type SubscribeRequest struct {
	CompanyIDs []string `json:"company_ids"`
}

// InventoryStale tells dashboards to refetch an inventory
type InventoryStale struct {
	CompanyID uuid.UUID `json:"company_id"`
	Period    string    `json:"period"`
	Reason    string    `json:"reason"`
}

// ReportGenerated announces a new report version
type ReportGenerated struct {
	ReportID     uuid.UUID `json:"report_id"`
	CompanyID    uuid.UUID `json:"company_id"`
	Framework    string    `json:"framework"`
	Format       string    `json:"format"`
	Version      int       `json:"version"`
	Completeness float64   `json:"completeness"`
}
