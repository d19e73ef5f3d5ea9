package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/winstat/pkg/analytics"
)

// errBadPayload marks messages that cannot be turned into a sample.
var errBadPayload = errors.New("bad sample payload")

// samplePayload is the JSON form accepted on the samples topic. A bare
// number is accepted as well.
type samplePayload struct {
	Value     *float64          `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags"`
}

// ParseSample converts a message received on <prefix>/samples/<series>
// into a sample. The series is the topic remainder after the samples
// segment. A missing timestamp is left zero for the pipeline to stamp.
func ParseSample(prefix, topic string, payload []byte) (analytics.Sample, error) {
	base := prefix + "/samples/"
	series, ok := strings.CutPrefix(topic, base)
	if !ok || series == "" {
		return analytics.Sample{}, fmt.Errorf("%w: topic %q outside %s#", errBadPayload, topic, base)
	}

	s := analytics.Sample{Series: series, Source: "mqtt"}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var p samplePayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return analytics.Sample{}, fmt.Errorf("%w: %v", errBadPayload, err)
		}
		if p.Value == nil {
			return analytics.Sample{}, fmt.Errorf("%w: value is required", errBadPayload)
		}
		s.Value = *p.Value
		s.Timestamp = p.Timestamp
		s.Tags = p.Tags
	} else {
		v, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return analytics.Sample{}, fmt.Errorf("%w: %v", errBadPayload, err)
		}
		s.Value = v
	}

	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return analytics.Sample{}, fmt.Errorf("%w: value is not finite", errBadPayload)
	}
	return s, nil
}

// windowTopic is where the latest window state of a series is published.
func windowTopic(prefix, series string) string {
	return prefix + "/window/" + series
}

// anomalyTopic is where anomalies of a series are published.
func anomalyTopic(prefix, series string) string {
	return prefix + "/anomaly/" + series
}
