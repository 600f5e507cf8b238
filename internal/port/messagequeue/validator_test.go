package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateDid(t *testing.T) {
	data := []byte(`{"type":"did","taskId":"t1","status":"success","result":{"message":"ok"}}`)
	if err := Validate(SubjectDid, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAgentDo(t *testing.T) {
	data := []byte(`{"type":"do","taskId":"t1","method":"handleMessage","params":{"message":"go"}}`)
	if err := Validate(AgentSubject("writer"), data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadEnvelope(t *testing.T) {
	data := []byte(`{"type":"did","taskId":"t1","status":"later"}`)
	err := Validate(SubjectDid, data)
	if err == nil {
		t.Fatal("expected error for unknown status")
	}
	if !strings.Contains(err.Error(), "envelope validation failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateTaskEvent(t *testing.T) {
	data := []byte(`{"task_id":"t1","status":"InProgress","at":"2025-01-01T00:00:00Z"}`)
	if err := Validate(SubjectTaskEvent, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatePlanEventWrongType(t *testing.T) {
	data := []byte(`{"task_id":"t1","completed":"three"}`)
	if err := Validate(SubjectPlanEvent, data); err == nil {
		t.Fatal("expected schema error")
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	if err := Validate(SubjectTaskEvent, []byte("{")); err == nil {
		t.Fatal("expected invalid JSON error")
	}
}

func TestValidateUnknownSubjectPasses(t *testing.T) {
	if err := Validate("something.else", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("unknown subjects should pass: %v", err)
	}
}

func TestAgentSubject(t *testing.T) {
	if got := AgentSubject("lead-qualification"); got != "agents.do.lead-qualification" {
		t.Fatalf("unexpected subject %q", got)
	}
}
