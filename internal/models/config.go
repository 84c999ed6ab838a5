package models

// UPSConfig describes one monitored UPS. Name is the stable identity;
// renaming means delete + create.
type UPSConfig struct {
	Name            string `json:"name"`
	Host            string `json:"host"`
	Port            int    `json:"port"`             // NIS port, default 3551
	IntervalSeconds int    `json:"interval_seconds"` // polling interval, min 5

	// Alert thresholds. A nil pointer disables the condition; zero is a
	// legitimate threshold and must survive a config round-trip.
	AlertLoadPctHigh       *float64 `json:"alert_loadpct_high,omitempty"`       // fire if LOADPCT >= value
	AlertBChargeLow        *float64 `json:"alert_bcharge_low,omitempty"`        // fire if BCHARGE <= value
	AlertOnBattery         bool     `json:"alert_on_battery,omitempty"`         // fire while STATUS indicates on battery
	AlertRuntimeLowMinutes *float64 `json:"alert_runtime_low_minutes,omitempty"` // fire if TIMELEFT <= minutes
}

// SMTPConfig holds outbound mail settings for alert delivery.
type SMTPConfig struct {
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	UseTLS        bool     `json:"use_tls,omitempty"` // STARTTLS
	UseSSL        bool     `json:"use_ssl,omitempty"` // implicit SSL
	FromAddr      string   `json:"from_addr,omitempty"`
	ToAddrs       []string `json:"to_addrs,omitempty"`
	SubjectPrefix string   `json:"subject_prefix,omitempty"`
}

// AppConfig is the whole configuration set, persisted as a single JSON
// blob in the key/value store.
type AppConfig struct {
	UPS  []UPSConfig `json:"ups"`
	SMTP *SMTPConfig `json:"smtp,omitempty"`
}
