package models

import "encoding/json"

type Preset struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Type        BotType     `json:"type"`
	Pair        string      `json:"pair"`
	Timeframe   string      `json:"timeframe,omitempty"`
	Params      BotParams   `json:"params"`
	Risk        *RiskParams `json:"risk,omitempty"`
}

// DraftBot is the editable input for creating a bot, either hand-built or cloned from a preset.
type DraftBot struct {
	Name     string      `json:"name"`
	Type     BotType     `json:"type"`
	Pair     string      `json:"pair"`
	Mode     Mode        `json:"mode"`
	Params   BotParams   `json:"params"`
	Risk     *RiskParams `json:"risk,omitempty"`
	PresetID string      `json:"presetId,omitempty"`
}

func (d *DraftBot) UnmarshalJSON(data []byte) error {
	type alias DraftBot
	aux := struct {
		*alias
		Params json.RawMessage `json:"params"`
	}{alias: (*alias)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	params, err := DecodeParams(d.Type, aux.Params)
	if err != nil {
		return err
	}
	d.Params = params
	return nil
}
