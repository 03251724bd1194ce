package toon

import (
	"encoding/json"
	"strings"
	"testing"
)

type storedWidget struct {
	ID   string `json:"id"`
	Spec string `json:"spec"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{" TOON ", FormatTOON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseFormat(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCodecProducesToonPayload(t *testing.T) {
	codec := New(FormatTOON)
	value := map[string]any{
		"widgets": []storedWidget{{ID: "01A", Spec: "bar"}, {ID: "01B", Spec: "line"}},
	}

	data, err := codec.Marshal(value)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	out := string(data)
	if out == "" || out[0] == '{' {
		t.Fatalf("expected TOON output, got %q", out)
	}
	if !strings.Contains(out, "widgets") || !strings.Contains(out, "01B") {
		t.Fatalf("TOON output missing content: %q", out)
	}
}

func TestCodecJSONUsesTags(t *testing.T) {
	codec := New(FormatJSON)
	value := storedWidget{ID: "01A", Spec: "bar"}

	data, err := codec.Marshal(value)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded storedWidget
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded != value {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, value)
	}
	if !strings.Contains(string(data), `"id": "01A"`) {
		t.Fatalf("expected indented JSON with tags, got %s", data)
	}
}

func TestCodecNilIsJSONNull(t *testing.T) {
	data, err := New(FormatTOON).Marshal(nil)
	if err != nil || string(data) != "null" {
		t.Fatalf("Marshal(nil) = %q, %v", data, err)
	}
}
