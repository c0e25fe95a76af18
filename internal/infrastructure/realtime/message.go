package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/integration"
)

// ChangeMessage is the JSON payload of one order change on the topic
type ChangeMessage struct {
	ID      string                `json:"id,omitempty"`
	Kind    integration.EventKind `json:"kind"`
	OrderID string                `json:"order_id"`
	Source  integration.RowSource `json:"source"`
	Partial bool                  `json:"partial,omitempty"`
	Row     json.RawMessage       `json:"row,omitempty"`
}

// DecodeChange parses a message value into an OrderEvent. The row is decoded
// into the concrete raw row type of its source.
func DecodeChange(value []byte, receivedAt time.Time) (integration.OrderEvent, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return integration.OrderEvent{}, fmt.Errorf("decode change message: %w", err)
	}
	msg.Kind = integration.EventKind(strings.ToUpper(string(msg.Kind)))
	if !msg.Kind.IsValid() {
		return integration.OrderEvent{}, fmt.Errorf("decode change message: unknown kind %q", msg.Kind)
	}

	ev := integration.OrderEvent{
		ID:         msg.ID,
		Kind:       msg.Kind,
		OrderID:    msg.OrderID,
		Partial:    msg.Partial,
		ReceivedAt: receivedAt,
	}
	if msg.Kind == integration.EventDelete || len(msg.Row) == 0 || string(msg.Row) == "null" {
		return ev, nil
	}

	row, err := decodeRow(msg.Source, msg.Row)
	if err != nil {
		return integration.OrderEvent{}, err
	}
	ev.Row = row
	if ev.OrderID == "" {
		ev.OrderID = row.Key()
	}
	return ev, nil
}

func decodeRow(source integration.RowSource, data []byte) (integration.RawRow, error) {
	var row integration.RawRow
	switch source {
	case integration.SourceUnified, "":
		row = &integration.UnifiedRow{}
	case integration.SourceMercadoLivre:
		row = &integration.MercadoLivreRow{}
	case integration.SourceShopee:
		row = &integration.ShopeeRow{}
	default:
		return nil, fmt.Errorf("%w: %q", integration.ErrUnknownRowSource, source)
	}
	if err := json.Unmarshal(data, row); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", source, err)
	}
	return row, nil
}

// EncodeChange is the inverse of DecodeChange
func EncodeChange(ev integration.OrderEvent) ([]byte, error) {
	msg := ChangeMessage{
		ID:      ev.ID,
		Kind:    ev.Kind,
		OrderID: ev.OrderID,
		Partial: ev.Partial,
	}
	if ev.Row != nil {
		msg.Source = ev.Row.Source()
		raw, err := json.Marshal(ev.Row)
		if err != nil {
			return nil, fmt.Errorf("encode row: %w", err)
		}
		msg.Row = raw
	}
	return json.Marshal(msg)
}
