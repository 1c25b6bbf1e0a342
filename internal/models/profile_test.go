package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestNewMountProfileDefaults(t *testing.T) {
	p := NewMountProfile("media", "smb://nas.local/media")

	if p.ID == uuid.Nil {
		t.Error("expected non-nil ID")
	}
	if !p.Enabled {
		t.Error("new profiles should be enabled")
	}
	if p.AutoMount {
		t.Error("auto-mount should be opt-in")
	}
	if p.RuleLogic != RuleLogicAll {
		t.Errorf("rule logic mismatch: got %s, want %s", p.RuleLogic, RuleLogicAll)
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MountProfile)
		wantErr bool
	}{
		{"valid", func(p *MountProfile) {}, false},
		{"missing url", func(p *MountProfile) { p.URL = "" }, true},
		{"url without scheme", func(p *MountProfile) { p.URL = "nas.local/share" }, true},
		{"nil id", func(p *MountProfile) { p.ID = uuid.Nil }, true},
		{"invalid rule type", func(p *MountProfile) {
			p.Rules = []MountRule{{Type: "bluetooth", Operator: OperatorEquals, Value: "x"}}
		}, true},
		{"invalid rule operator", func(p *MountProfile) {
			p.Rules = []MountRule{{Type: RuleTypeWiFi, Operator: "matches", Value: "x"}}
		}, true},
		{"invalid automation event", func(p *MountProfile) {
			p.Automations = []AutomationConfig{{Type: AutomationShell, Events: []LifecycleEvent{"on_boot"}}}
		}, true},
		{"valid rules and automations", func(p *MountProfile) {
			p.Rules = []MountRule{{Type: RuleTypeVPN, Operator: OperatorNotEquals, Value: ""}}
			p.Automations = []AutomationConfig{{Type: AutomationWOL, Events: []LifecycleEvent{EventPreMount}}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewMountProfile("test", "smb://nas.local/share")
			tt.mutate(p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProfileHost(t *testing.T) {
	p := NewMountProfile("test", "smb://user@nas.local:4450/share")
	if got := p.Host(); got != "nas.local" {
		t.Errorf("Host() = %q, want %q", got, "nas.local")
	}
}

func TestLegacyProfileMigration(t *testing.T) {
	raw := []byte(`{
		"id": "7f6d0e9a-3a86-4f6f-9f6a-1f2b3c4d5e6f",
		"name": "office nas",
		"url": "smb://nas.office/share",
		"enabled": true,
		"auto_mount": true,
		"ssids": ["Office", "Office-5G"],
		"script": {"path": "/usr/local/bin/sync.sh", "args": "--fast"},
		"wol": {"mac": "aa:bb:cc:dd:ee:ff", "broadcast": "192.168.1.255", "port": 9}
	}`)

	var p MountProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal legacy profile: %v", err)
	}

	if len(p.Rules) != 2 {
		t.Fatalf("rule count mismatch: got %d, want 2", len(p.Rules))
	}
	for i, want := range []string{"Office", "Office-5G"} {
		rule := p.Rules[i]
		if rule.Type != RuleTypeWiFi || rule.Operator != OperatorEquals || rule.Value != want {
			t.Errorf("rule %d mismatch: got %+v", i, rule)
		}
	}
	if p.RuleLogic != RuleLogicAny {
		t.Errorf("legacy SSID list should migrate to any logic, got %s", p.RuleLogic)
	}

	if len(p.Automations) != 2 {
		t.Fatalf("automation count mismatch: got %d, want 2", len(p.Automations))
	}
	script := p.Automations[0]
	if script.Type != AutomationShell || script.Path != "/usr/local/bin/sync.sh" || script.Arguments != "--fast" {
		t.Errorf("script automation mismatch: %+v", script)
	}
	if !script.HasEvent(EventMounted) {
		t.Error("legacy script should bind to the mounted event")
	}
	wol := p.Automations[1]
	if wol.Type != AutomationWOL || wol.MACAddress != "aa:bb:cc:dd:ee:ff" || wol.Port != 9 {
		t.Errorf("wol automation mismatch: %+v", wol)
	}
	if !wol.HasEvent(EventPreMount) {
		t.Error("legacy wol should bind to the pre_mount event")
	}
}

func TestCurrentFormatNotOverwrittenByLegacyFields(t *testing.T) {
	raw := []byte(`{
		"id": "7f6d0e9a-3a86-4f6f-9f6a-1f2b3c4d5e6f",
		"name": "home nas",
		"url": "smb://nas.home/share",
		"rules": [{"type": "vpn", "operator": "equals", "value": ""}],
		"rule_logic": "all",
		"ssids": ["ShouldBeIgnored"]
	}`)

	var p MountProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(p.Rules) != 1 {
		t.Fatalf("rule count mismatch: got %d, want 1", len(p.Rules))
	}
	if p.Rules[0].Type != RuleTypeVPN {
		t.Errorf("existing rules must win over legacy ssids, got %+v", p.Rules[0])
	}
	if p.RuleLogic != RuleLogicAll {
		t.Errorf("rule logic mismatch: got %s, want all", p.RuleLogic)
	}
}

func TestAutomationHasEvent(t *testing.T) {
	a := AutomationConfig{Events: []LifecycleEvent{EventPreMount, EventMountFailed}}
	if !a.HasEvent(EventPreMount) {
		t.Error("expected pre_mount to be present")
	}
	if a.HasEvent(EventUnmounted) {
		t.Error("did not expect unmounted to be present")
	}
}
