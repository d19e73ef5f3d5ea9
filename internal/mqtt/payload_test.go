package mqtt

import (
	"errors"
	"testing"
	"time"
)

func TestParseSample(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		topic      string
		payload    string
		wantSeries string
		wantValue  float64
		wantTS     time.Time
		wantTag    string
		wantErr    bool
	}{
		{"bare number", "winstat/samples/cpu", "12.5", "cpu", 12.5, time.Time{}, "", false},
		{"padded number", "winstat/samples/cpu", " 3\n", "cpu", 3, time.Time{}, "", false},
		{"nested series", "winstat/samples/host-1/disk/sda", "1e3", "host-1/disk/sda", 1000, time.Time{}, "", false},
		{"json", "winstat/samples/mem", `{"value": -2.25, "timestamp": "2026-03-01T12:00:00Z", "tags": {"dc": "ams"}}`,
			"mem", -2.25, ts, "ams", false},
		{"json without value", "winstat/samples/mem", `{"tags": {}}`, "", 0, time.Time{}, "", true},
		{"malformed json", "winstat/samples/mem", `{"value": `, "", 0, time.Time{}, "", true},
		{"not a number", "winstat/samples/mem", "high", "", 0, time.Time{}, "", true},
		{"nan", "winstat/samples/mem", "NaN", "", 0, time.Time{}, "", true},
		{"inf", "winstat/samples/mem", "+Inf", "", 0, time.Time{}, "", true},
		{"empty payload", "winstat/samples/mem", "", "", 0, time.Time{}, "", true},
		{"no series", "winstat/samples/", "1", "", 0, time.Time{}, "", true},
		{"other prefix", "other/samples/cpu", "1", "", 0, time.Time{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSample("winstat", tt.topic, []byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, errBadPayload) {
					t.Fatalf("ParseSample() error = %v, want errBadPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSample() error = %v", err)
			}
			if s.Series != tt.wantSeries {
				t.Errorf("Series = %q, want %q", s.Series, tt.wantSeries)
			}
			if s.Value != tt.wantValue {
				t.Errorf("Value = %v, want %v", s.Value, tt.wantValue)
			}
			if !s.Timestamp.Equal(tt.wantTS) {
				t.Errorf("Timestamp = %v, want %v", s.Timestamp, tt.wantTS)
			}
			if s.Source != "mqtt" {
				t.Errorf("Source = %q, want mqtt", s.Source)
			}
			if tt.wantTag != "" && s.Tags["dc"] != tt.wantTag {
				t.Errorf("Tags = %v, want dc=%s", s.Tags, tt.wantTag)
			}
		})
	}
}
