package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfigure(t *testing.T) {
	defer SetLevel(LevelInfo)
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{" WARNING ", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		err := Configure(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Configure(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got := getLevel(); got != tt.want {
			t.Errorf("Configure(%q) level = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetLevel(LevelInfo)
	SetLevel(LevelWarn)

	Info("hidden", nil)
	Warn("shown", Fields{FieldChannel: 1})
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "channel") {
		t.Fatalf("expected warn line with channel field, got %q", out)
	}
}

func TestWith(t *testing.T) {
	base := Fields{FieldSession: "a"}
	got := With(base, Fields{FieldChannel: 0})
	if len(got) != 2 || len(base) != 1 {
		t.Fatalf("unexpected merge %v (base %v)", got, base)
	}
}
