package supervisor

import (
	"reflect"
	"testing"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantOK   bool
		wantType string
	}{
		{"init event", `{"type":"system","subtype":"init","session_id":"s1"}`, true, "system"},
		{"result event", `{"type":"result","result":"done","is_error":false}`, true, "result"},
		{"leading whitespace", `   {"type":"assistant"}`, true, "assistant"},
		{"raw text", "compiling package foo", false, ""},
		{"json without type", `{"foo":"bar"}`, false, ""},
		{"truncated json", `{"type":"resu`, false, ""},
		{"empty line", "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := classifyLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("classifyLine(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if ok && ev.Type != tt.wantType {
				t.Errorf("type = %q, want %q", ev.Type, tt.wantType)
			}
		})
	}
}

func TestAgentEvent_ContentBlocks(t *testing.T) {
	ev, ok := classifyLine(`{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"working on it"},` +
		`{"type":"tool_use","name":"Bash"},` +
		`{"type":"text","text":"done"},` +
		`{"type":"tool_use","name":"Edit"}]}}`)
	if !ok {
		t.Fatal("classifyLine rejected assistant event")
	}
	if got := ev.textBlocks(); !reflect.DeepEqual(got, []string{"working on it", "done"}) {
		t.Errorf("textBlocks = %v", got)
	}
	if got := ev.toolUses(); !reflect.DeepEqual(got, []string{"Bash", "Edit"}) {
		t.Errorf("toolUses = %v", got)
	}
}

func TestAgentEvent_IsInit(t *testing.T) {
	init, _ := classifyLine(`{"type":"system","subtype":"init"}`)
	if !init.isInit() {
		t.Error("system/init should report isInit")
	}
	other, _ := classifyLine(`{"type":"system","subtype":"compact"}`)
	if other.isInit() {
		t.Error("system/compact should not report isInit")
	}
}
