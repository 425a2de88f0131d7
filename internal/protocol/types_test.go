package protocol

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeIgnoresBadTimestamp(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"type":"command","payload":{"id":"a"},"timestamp":"now"}`), &env); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if env.Type != TypeCommand || env.Timestamp != 0 {
		t.Errorf("Unexpected envelope %+v", env)
	}
	if string(env.Payload) != `{"id":"a"}` {
		t.Errorf("Unexpected payload %s", env.Payload)
	}
}

func TestEnvelopeRejectsNonJSON(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{nope`), &env); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestCommandIDEchoedVerbatim(t *testing.T) {
	tests := []struct {
		payload string
		id      string
		wantID  string
	}{
		{`{"id":"abc","action":"jump"}`, "abc", `"abc"`},
		{`{"id":7,"action":"jump"}`, "7", `7`},
		{`{"id":1.50,"action":"jump"}`, "1.50", `1.50`},
		{`{"id":null,"action":"jump"}`, "", `null`},
		{`{"action":"jump"}`, "", `""`},
	}

	for _, tt := range tests {
		var cmd Command
		if err := json.Unmarshal([]byte(tt.payload), &cmd); err != nil {
			t.Fatalf("Unmarshal %s failed: %v", tt.payload, err)
		}
		if cmd.ID != tt.id {
			t.Errorf("%s: expected id %q, got %q", tt.payload, tt.id, cmd.ID)
		}

		b, err := json.Marshal(CommandResult{ID: cmd.ID, RawID: cmd.RawID})
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		want := `{"id":` + tt.wantID + `,"success":false}`
		if string(b) != want {
			t.Errorf("%s: expected %s, got %s", tt.payload, want, b)
		}
	}
}

func TestCommandNonObjectPayload(t *testing.T) {
	var cmd Command
	if err := json.Unmarshal([]byte(`"oops"`), &cmd); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cmd.ID != "" || cmd.Action != "" {
		t.Errorf("Expected empty command, got %+v", cmd)
	}
}

func TestCommandResultRoundTripKeepsRawID(t *testing.T) {
	var res CommandResult
	if err := json.Unmarshal([]byte(`{"id":42,"success":true,"data":{"ok":true}}`), &res); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if res.ID != "42" || string(res.RawID) != "42" || !res.Success {
		t.Errorf("Unexpected result %+v", res)
	}
	b, _ := json.Marshal(res)
	if string(b) != `{"id":42,"success":true,"data":{"ok":true}}` {
		t.Errorf("Unexpected encoding %s", b)
	}
}

func TestCommandMarshal(t *testing.T) {
	b, err := json.Marshal(Command{ID: "c1", Action: "jump", Params: json.RawMessage(`{"n":1}`)})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(b) != `{"id":"c1","action":"jump","params":{"n":1}}` {
		t.Errorf("Unexpected encoding %s", b)
	}
}
