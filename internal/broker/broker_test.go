package broker

import (
	"encoding/json"
	"reflect"
	"testing"
)

func sampleEnvelope() AlertEnvelope {
	wfID := uint(3)
	wfName := "intrusion"
	return AlertEnvelope{
		AlertID:       42,
		SourceID:      7,
		SourceName:    "gate-cam",
		SourceCode:    "gate-cam",
		WorkflowID:    &wfID,
		WorkflowName:  &wfName,
		AlertTime:     "2026-08-01T12:00:00Z",
		AlertType:     "Intrusion",
		AlertLevel:    "warning",
		AlertMessage:  "2 detection(s)",
		AlertImage:    "gate-cam/Intrusion/frame_20260801_120000.jpg",
		AlertImageOri: "gate-cam/Intrusion/frame_20260801_120000.ori.jpg",
		AlertVideo:    "7/alert_42_20260801_120000.mp4",
		Timestamp:     1785556800,
		Source:        "video-ba-pipe",
	}
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	env := sampleEnvelope()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back AlertEnvelope
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(env, back) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", env, back)
	}
}

func TestEnvelopeFieldNames(t *testing.T) {
	data, err := json.Marshal(sampleEnvelope())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal to map: %v", err)
	}
	for _, key := range []string{
		"alert_id", "source_id", "source_name", "source_code",
		"workflow_id", "workflow_name", "alert_time", "alert_type",
		"alert_level", "alert_message", "alert_image", "alert_image_ori",
		"alert_video", "timestamp", "source",
	} {
		if _, ok := m[key]; !ok {
			t.Fatalf("envelope missing field %q", key)
		}
	}
}

func TestRoutingKeyDerivation(t *testing.T) {
	topic := New(Config{ExchangeType: ExchangeTopic, RoutingKey: "unused"})
	if got := topic.routingKey(AlertEnvelope{AlertType: "Intrusion"}); got != "video.alert.intrusion" {
		t.Fatalf("topic routing key = %q, want video.alert.intrusion", got)
	}

	direct := New(Config{ExchangeType: ExchangeDirect, RoutingKey: "alerts.direct"})
	if got := direct.routingKey(AlertEnvelope{AlertType: "Intrusion"}); got != "alerts.direct" {
		t.Fatalf("direct routing key = %q, want alerts.direct", got)
	}
}

func TestPublishDisabledIsNoOp(t *testing.T) {
	p := New(Config{Enabled: false})
	if p.Publish(sampleEnvelope()) {
		t.Fatalf("disabled publisher returned true")
	}
}

func TestVHostPath(t *testing.T) {
	for in, want := range map[string]string{
		"":       "/",
		"/":      "/",
		"video":  "/video",
		"/video": "/video",
	} {
		if got := vhostPath(in); got != want {
			t.Fatalf("vhostPath(%q) = %q, want %q", in, got, want)
		}
	}
}
