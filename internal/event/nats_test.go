package event

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/danki-amsterdam/witvis/internal/model"
)

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := NewPublisher("")
	if _, ok := p.(noop); !ok {
		t.Fatalf("NewPublisher(\"\") = %T, want noop", p)
	}
	if err := p.PublishSubmissionApproved(context.Background(), model.Submission{ID: 1}); err != nil {
		t.Errorf("noop publish error = %v", err)
	}
}

func TestEnvelopeShape(t *testing.T) {
	url := "https://cdn.example.com/a.jpg"
	env := NewEnvelope(SubjectMaterialized, model.Submission{
		ID: 7, Username: "alice", Email: "alice@example.com", Checksum: "alice|sky||a.jpg",
		ImageURL: &url, LeaseToken: "01HX",
	})

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(b, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["type"] != SubjectMaterialized {
		t.Errorf("type = %v, want %v", body["type"], SubjectMaterialized)
	}
	if body["version"] != "1.0.0" {
		t.Errorf("version = %v, want 1.0.0", body["version"])
	}
	if body["correlationId"] == "" {
		t.Errorf("correlationId is empty")
	}
	payload, _ := body["payload"].(map[string]interface{})
	if payload["imageUrl"] != url {
		t.Errorf("payload.imageUrl = %v, want %v", payload["imageUrl"], url)
	}
	for _, field := range []string{"email", "checksum", "leaseUntil", "approved"} {
		if _, ok := payload[field]; ok {
			t.Errorf("payload carries %q: %v", field, payload)
		}
	}
}

func TestRecorderKeepsOrder(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	_ = r.PublishSubmissionMaterialized(ctx, model.Submission{ID: 1})
	_ = r.PublishSubmissionApproved(ctx, model.Submission{ID: 1})

	events := r.Events()
	if len(events) != 2 {
		t.Fatalf("Events() len = %d, want 2", len(events))
	}
	if events[0].Type != SubjectMaterialized || events[1].Type != SubjectApproved {
		t.Errorf("Events() types = %s, %s", events[0].Type, events[1].Type)
	}
}
