package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for extended status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event          string       `json:"event,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Mode           string       `json:"mode"`
	Running        bool         `json:"running"`
	Counter        int          `json:"counter"`
	TTL            int          `json:"ttl"`
	MosfetOn       bool         `json:"mosfet_on"`
	Resets         uint64       `json:"resets"`
	PendingReboot  bool         `json:"pending_reboot"`
	HardwareFaults uint64       `json:"hardware_faults"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	BootTime       string       `json:"boot_time"`
	Timestamp      string       `json:"timestamp"`
	MQTT           MQTTStatus   `json:"mqtt"`
	Network        *NetworkJSON `json:"network,omitempty"`
	Config         ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs    int64  `json:"tick_ms"`
	SettleMs  int64  `json:"settle_ms"`
	Pin       int    `json:"pin"`
	ActiveLow bool   `json:"active_low"`
	DryRun    bool   `json:"dry_run"`
	HTTPAddr  string `json:"http_addr"`
	Journal   bool   `json:"journal"`
}

func buildInner(snap Snapshot) StatusInner {
	wd := snap.Watchdog
	inner := StatusInner{
		Mode:           string(wd.Mode),
		Running:        wd.Running(),
		Counter:        wd.Counter,
		TTL:            wd.TTL,
		MosfetOn:       wd.Energized,
		Resets:         wd.ResetCount,
		PendingReboot:  wd.PendingReboot,
		HardwareFaults: wd.HardwareFaults,
		UptimeSeconds:  int64(snap.Uptime().Truncate(time.Second).Seconds()),
		BootTime:       wd.BootTime.UTC().Format(time.RFC3339),
		Timestamp:      snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Enabled:   snap.Config.Broker != "",
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
		},
		Config: ConfigJSON{
			TickMs:    snap.Config.TickMs,
			SettleMs:  snap.Config.SettleMs,
			Pin:       snap.Config.Pin,
			ActiveLow: snap.Config.ActiveLow,
			DryRun:    snap.Config.DryRun,
			HTTPAddr:  snap.Config.HTTPAddr,
			Journal:   snap.Config.Journal,
		},
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the extended status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
