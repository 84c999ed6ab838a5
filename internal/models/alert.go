package models

import "time"

// Alert condition kinds. Each (UPS, condition) pair has its own
// cooldown window.
const (
	CondLoadHigh      = "LOAD_HIGH"
	CondBatteryLow    = "BATTERY_LOW"
	CondOnBattery     = "ON_BATTERY"
	CondRuntimeLow    = "RUNTIME_LOW"
	CondXferBurst     = "TRANSFER_BURST"
	CondVoltDeviation = "VOLTAGE_DEVIATION"
)

// AlertEvent is a fired alert, appended to the per-UPS events log.
type AlertEvent struct {
	EventID    string    `json:"event_id"`
	UPSName    string    `json:"ups"`
	Condition  string    `json:"condition"`
	Message    string    `json:"message"`
	Value      float64   `json:"value"`
	OccurredAt time.Time `json:"occurred_at"`
}
