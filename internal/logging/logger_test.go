package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevelAndFormat(t *testing.T) {
	if lvl, err := ParseLevel("WARNING"); err != nil || lvl != Warn {
		t.Fatalf("expected warn, got %v (%v)", lvl, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if f, err := ParseFormat("json"); err != nil || f != JSON {
		t.Fatalf("expected json, got %v (%v)", f, err)
	}
}

func TestTextLoggerFiltersAndRendersFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Info, Text, &buf).With(Subsystem("scope"))
	l.Debug("hidden")
	l.Info("range change", Field{Key: "channel", Value: 1}, Field{Key: "cmd", Value: "CHANnel1:RANGe 500 mV"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug entry should be filtered: %q", out)
	}
	for _, want := range []string{"[INFO] range change", "subsystem=scope", "channel=1", `cmd="CHANnel1:RANGe 500 mV"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestJSONLoggerEncodesErrors(t *testing.T) {
	var buf bytes.Buffer
	l, err := Setup("debug", "json", &buf)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	l.Warn("retry", Err(errors.New("boom")), Field{Key: "attempt", Value: 2})

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry["level"] != "WARN" || entry["msg"] != "retry" || entry["error"] != "boom" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if entry["attempt"].(float64) != 2 {
		t.Fatalf("unexpected attempt: %#v", entry["attempt"])
	}
}

func TestDefaultDiscardsUntilSet(t *testing.T) {
	if Default() == nil {
		t.Fatalf("default logger must never be nil")
	}
	if OrDefault(nil) == nil {
		t.Fatalf("OrDefault(nil) must fall back")
	}
}
