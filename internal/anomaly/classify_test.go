package anomaly

import (
	"testing"

	"github.com/nerrad567/gray-logic-cell/internal/node"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		value     node.Value
		wantClass Class
		wantToken string
	}{
		{"json ng", node.Text(`{"Anomaly":"NG"}`), ClassAnomaly, "NG"},
		{"json ok lowercase", node.Text(`{"Anomaly":"ok"}`), ClassNormal, "ok"},
		{"embedded in text", node.Text(`result: {"Anomaly": "NG", "score": 0.93} end`), ClassAnomaly, "NG"},
		{"observational marker", node.Text(`GENERAL_ERROR: {"Anomaly":"NG"}`), ClassAnomaly, "NG"},
		{"bare token", node.Text("  ng "), ClassAnomaly, "ng"},
		{"bare ok", node.Text("OK"), ClassNormal, "OK"},
		{"missing field", node.Text(`{"Other":"NG"}`), ClassNone, ""},
		{"null field", node.Text(`{"Anomaly":null}`), ClassNone, ""},
		{"boolean field", node.Text(`{"Anomaly":true}`), ClassNone, "true"},
		{"broken json falls back", node.Text(`{"Anomaly":"NG"`), ClassNone, `{"Anomaly":"NG"`},
		{"reversed braces", node.Text(`} NG {`), ClassNone, "} NG {"},
		{"ready", node.Text(node.ReadyValue), ClassNone, node.ReadyValue},
		{"empty", node.Text(""), ClassNone, ""},
		{"bytes", node.Bytes([]byte("NG")), ClassAnomaly, "NG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, token := Classify(tt.value)
			if class != tt.wantClass {
				t.Errorf("Classify() class = %v, want %v", class, tt.wantClass)
			}
			if token != tt.wantToken {
				t.Errorf("Classify() token = %q, want %q", token, tt.wantToken)
			}
		})
	}
}

func TestParseEmbedded(t *testing.T) {
	tests := []struct {
		raw        string
		wantToken  string
		wantParsed bool
	}{
		{`{"Anomaly":"NG"}`, "NG", true},
		{`{"Anomaly":3}`, "3", true},
		{`{}`, "", true},
		{`no braces`, "", false},
		{`{not json}`, "", false},
		{`[{"Anomaly":"NG"}]`, "NG", true},
	}
	for _, tt := range tests {
		token, parsed := parseEmbedded(tt.raw)
		if token != tt.wantToken || parsed != tt.wantParsed {
			t.Errorf("parseEmbedded(%q) = (%q, %v), want (%q, %v)", tt.raw, token, parsed, tt.wantToken, tt.wantParsed)
		}
	}
}

func TestClassString(t *testing.T) {
	if ClassAnomaly.String() != "ng" || ClassNormal.String() != "ok" || ClassNone.String() != "none" {
		t.Error("Class.String() mismatch")
	}
}
