package msg

import (
	"encoding/json"
	"fmt"
)

type WsMessage struct {
	EventCode EventCode       `json:"eventCode"`
	EventData json.RawMessage `json:"eventData"`
}

func NewWsMessage(code EventCode, event interface{}) (*WsMessage, error) {
	rawEvent, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event code[%v]: %w", code, err)
	}
	return &WsMessage{EventCode: code, EventData: rawEvent}, nil
}
