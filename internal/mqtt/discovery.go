package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// nonAlphanumeric matches any character that is not alphanumeric or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// DiscoveryConfig holds a single HA MQTT discovery payload.
type DiscoveryConfig struct {
	Topic   string // Full MQTT topic (homeassistant/...)
	Payload []byte // JSON-encoded config (empty = remove)
	Retain  bool   // Discovery configs should always be retained
}

// HADevice is the "device" block in HA discovery payloads. Every series
// is grouped under one winstat device.
type HADevice struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
	Model       string   `json:"model,omitempty"`
	SWVersion   string   `json:"sw_version,omitempty"`
}

// SensorConfig is the HA discovery payload for sensor.
type SensorConfig struct {
	Name          string   `json:"name"`
	ObjectID      string   `json:"object_id"`
	UniqueID      string   `json:"unique_id"`
	StateTopic    string   `json:"state_topic"`
	ValueTemplate string   `json:"value_template"`
	StateClass    string   `json:"state_class,omitempty"`
	Icon          string   `json:"icon,omitempty"`
	Device        HADevice `json:"device"`
}

// SafeObjectID sanitizes a string for use as an HA object_id.
// Replaces any non-alphanumeric character (except underscore) with underscore,
// lowercases, and trims leading/trailing underscores.
func SafeObjectID(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// seriesSensors lists the window fields announced for every series.
var seriesSensors = []struct {
	field string
	label string
	icon  string
}{
	{"mean", "Mean", "mdi:chart-bell-curve"},
	{"std_dev", "StdDev", "mdi:sigma"},
}

// BuildSeriesDiscoveryConfigs creates HA sensor configs for the window mean
// and standard deviation of one series. Both read the retained JSON window
// state from <topicPrefix>/window/<series>.
func BuildSeriesDiscoveryConfigs(series, topicPrefix, haPrefix, swVersion string) []DiscoveryConfig {
	if series == "" {
		return nil
	}
	safeID := SafeObjectID(series)
	device := HADevice{
		Identifiers: []string{"winstat_" + SafeObjectID(topicPrefix)},
		Name:        "winstat",
		Model:       "sliding window statistics",
		SWVersion:   swVersion,
	}

	configs := make([]DiscoveryConfig, 0, len(seriesSensors))
	for _, s := range seriesSensors {
		cfg := SensorConfig{
			Name:          series + " " + s.label,
			ObjectID:      "winstat_" + safeID + "_" + s.field,
			UniqueID:      "winstat_" + safeID + "_" + s.field,
			StateTopic:    windowTopic(topicPrefix, series),
			ValueTemplate: "{{ value_json." + s.field + " }}",
			StateClass:    "measurement",
			Icon:          s.icon,
			Device:        device,
		}
		payload, err := json.Marshal(cfg)
		if err != nil {
			continue
		}
		configs = append(configs, DiscoveryConfig{
			Topic:   fmt.Sprintf("%s/sensor/winstat_%s/%s/config", haPrefix, safeID, s.field),
			Payload: payload,
			Retain:  true,
		})
	}
	return configs
}
