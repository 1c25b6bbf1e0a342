// Package models defines the core data types for Mountkeeper: mount
// profiles, contextual rules, and lifecycle automations.
package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// RuleType identifies what a rule is evaluated against.
type RuleType string

const (
	// RuleTypeWiFi matches the current Wi-Fi SSID.
	RuleTypeWiFi RuleType = "wifi"
	// RuleTypeVPN matches active VPN interfaces.
	RuleTypeVPN RuleType = "vpn"
	// RuleTypeApp matches running applications.
	RuleTypeApp RuleType = "app"
)

// ValidRuleTypes returns all valid rule types.
func ValidRuleTypes() []RuleType {
	return []RuleType{RuleTypeWiFi, RuleTypeVPN, RuleTypeApp}
}

// IsValidRuleType checks if the rule type is valid.
func IsValidRuleType(t RuleType) bool {
	for _, valid := range ValidRuleTypes() {
		if t == valid {
			return true
		}
	}
	return false
}

// RuleOperator defines how a rule value is compared against live context.
type RuleOperator string

const (
	// OperatorEquals requires an exact match.
	OperatorEquals RuleOperator = "equals"
	// OperatorNotEquals negates the match.
	OperatorNotEquals RuleOperator = "not_equals"
	// OperatorContains requires substring containment.
	OperatorContains RuleOperator = "contains"
)

// RuleLogic combines the per-rule results of a profile.
type RuleLogic string

const (
	// RuleLogicAll requires every rule to pass (conjunction).
	RuleLogicAll RuleLogic = "all"
	// RuleLogicAny requires at least one rule to pass (disjunction).
	RuleLogicAny RuleLogic = "any"
)

// MountRule is a single condition evaluated against live system context.
// Rules are immutable value objects; they carry no runtime state.
type MountRule struct {
	Type     RuleType     `json:"type"`
	Operator RuleOperator `json:"operator"`
	Value    string       `json:"value"`
}

// AutomationType identifies the kind of side effect an automation performs.
type AutomationType string

const (
	// AutomationShell spawns a script or executable.
	AutomationShell AutomationType = "shell"
	// AutomationApp launches an application.
	AutomationApp AutomationType = "app"
	// AutomationWOL sends a Wake-on-LAN magic packet.
	AutomationWOL AutomationType = "wol"
)

// LifecycleEvent is a point in the mount lifecycle that automations bind to.
type LifecycleEvent string

const (
	// EventPreMount fires before the mount attempt starts.
	EventPreMount LifecycleEvent = "pre_mount"
	// EventMounted fires after a successful mount.
	EventMounted LifecycleEvent = "mounted"
	// EventPreUnmount fires before an unmount attempt.
	EventPreUnmount LifecycleEvent = "pre_unmount"
	// EventUnmounted fires after a successful unmount.
	EventUnmounted LifecycleEvent = "unmounted"
	// EventMountFailed fires when a mount attempt fails.
	EventMountFailed LifecycleEvent = "mount_failed"
)

// ValidLifecycleEvents returns all valid lifecycle events.
func ValidLifecycleEvents() []LifecycleEvent {
	return []LifecycleEvent{
		EventPreMount,
		EventMounted,
		EventPreUnmount,
		EventUnmounted,
		EventMountFailed,
	}
}

// IsValidLifecycleEvent checks if the event is valid.
func IsValidLifecycleEvent(e LifecycleEvent) bool {
	for _, valid := range ValidLifecycleEvents() {
		if e == valid {
			return true
		}
	}
	return false
}

// AutomationConfig is a side-effect task bound to one or more lifecycle
// events of its owning profile.
type AutomationConfig struct {
	Type    AutomationType   `json:"type"`
	Enabled bool             `json:"enabled"`
	Events  []LifecycleEvent `json:"events"`

	// Shell and app fields.
	Path      string `json:"path,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Wake-on-LAN fields.
	MACAddress       string `json:"mac_address,omitempty"`
	BroadcastAddress string `json:"broadcast_address,omitempty"`
	Port             int    `json:"port,omitempty"`

	// WaitTime is a pause in seconds applied after the task completes,
	// before the next automation for the same event runs.
	WaitTime int `json:"wait_time,omitempty"`
}

// HasEvent reports whether the automation is bound to the given event.
func (a *AutomationConfig) HasEvent(event LifecycleEvent) bool {
	for _, e := range a.Events {
		if e == event {
			return true
		}
	}
	return false
}

// MountProfile is a user-configured network share target with its mount,
// rule, and automation settings.
type MountProfile struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	// URL is the connection target, e.g. smb://user@nas.local:445/share.
	URL string `json:"url"`

	// MountPoint optionally overrides the local mount path.
	MountPoint string `json:"mount_point,omitempty"`

	// Enabled is the master switch; a disabled profile is never touched.
	Enabled bool `json:"enabled"`

	// AutoMount opts the profile into the rule-driven auto-mount sweep.
	AutoMount bool `json:"auto_mount"`

	Rules     []MountRule `json:"rules,omitempty"`
	RuleLogic RuleLogic   `json:"rule_logic,omitempty"`

	// BonjourHost is the advertised hostname for Bonjour-discovered
	// servers, used to track IP changes across resolutions.
	BonjourHost string `json:"bonjour_host,omitempty"`

	Automations []AutomationConfig `json:"automations,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMountProfile creates a profile with a fresh ID and timestamps.
func NewMountProfile(name, rawURL string) *MountProfile {
	now := time.Now()
	return &MountProfile{
		ID:        uuid.New(),
		Name:      name,
		URL:       rawURL,
		Enabled:   true,
		RuleLogic: RuleLogicAll,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the profile, including rules and
// automations. The profile store hands out clones so callers never share
// a mutable struct across goroutines.
func (p *MountProfile) Clone() *MountProfile {
	out := *p
	if p.Rules != nil {
		out.Rules = make([]MountRule, len(p.Rules))
		copy(out.Rules, p.Rules)
	}
	if p.Automations != nil {
		out.Automations = make([]AutomationConfig, len(p.Automations))
		copy(out.Automations, p.Automations)
		for i := range out.Automations {
			if events := out.Automations[i].Events; events != nil {
				out.Automations[i].Events = append([]LifecycleEvent(nil), events...)
			}
		}
	}
	return &out
}

// Validate checks the profile for required fields and well-formed values.
func (p *MountProfile) Validate() error {
	if p.ID == uuid.Nil {
		return fmt.Errorf("profile id is required")
	}
	if p.URL == "" {
		return fmt.Errorf("profile url is required")
	}
	parsed, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("parse profile url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("profile url must include scheme and host")
	}
	for i, rule := range p.Rules {
		if !IsValidRuleType(rule.Type) {
			return fmt.Errorf("rule %d: invalid type %q", i, rule.Type)
		}
		switch rule.Operator {
		case OperatorEquals, OperatorNotEquals, OperatorContains:
		default:
			return fmt.Errorf("rule %d: invalid operator %q", i, rule.Operator)
		}
	}
	for i, auto := range p.Automations {
		for _, e := range auto.Events {
			if !IsValidLifecycleEvent(e) {
				return fmt.Errorf("automation %d: invalid event %q", i, e)
			}
		}
	}
	return nil
}

// Host returns the host portion of the profile URL, without port.
// Returns an empty string when the URL cannot be parsed.
func (p *MountProfile) Host() string {
	parsed, err := url.Parse(p.URL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// legacyProfile is the pre-rules on-disk shape. Early releases stored a
// flat SSID allowlist plus single script and Wake-on-LAN entries instead
// of generalized rules and automations.
type legacyProfile struct {
	SSIDs  []string `json:"ssids,omitempty"`
	Script *struct {
		Path string `json:"path"`
		Args string `json:"args,omitempty"`
	} `json:"script,omitempty"`
	WOL *struct {
		MAC       string `json:"mac"`
		Broadcast string `json:"broadcast,omitempty"`
		Port      int    `json:"port,omitempty"`
	} `json:"wol,omitempty"`
}

// UnmarshalJSON decodes a profile, transparently migrating legacy fields
// into the current rules/automations shape. Legacy fields are discarded
// after migration; the engine never sees them.
func (p *MountProfile) UnmarshalJSON(data []byte) error {
	type plain MountProfile
	var current plain
	if err := json.Unmarshal(data, &current); err != nil {
		return err
	}
	*p = MountProfile(current)

	var legacy legacyProfile
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}
	migrateLegacyProfile(p, &legacy)
	return nil
}

// migrateLegacyProfile folds legacy SSID, script, and WOL fields into the
// generalized rules and automations, without overwriting current-format
// data that is already present.
func migrateLegacyProfile(p *MountProfile, legacy *legacyProfile) {
	if len(legacy.SSIDs) > 0 && len(p.Rules) == 0 {
		for _, ssid := range legacy.SSIDs {
			p.Rules = append(p.Rules, MountRule{
				Type:     RuleTypeWiFi,
				Operator: OperatorEquals,
				Value:    ssid,
			})
		}
		// A list of allowed networks means "any of these".
		p.RuleLogic = RuleLogicAny
	}
	if p.RuleLogic == "" {
		p.RuleLogic = RuleLogicAll
	}

	if legacy.Script != nil && legacy.Script.Path != "" && len(p.Automations) == 0 {
		p.Automations = append(p.Automations, AutomationConfig{
			Type:      AutomationShell,
			Enabled:   true,
			Events:    []LifecycleEvent{EventMounted},
			Path:      legacy.Script.Path,
			Arguments: legacy.Script.Args,
		})
	}
	if legacy.WOL != nil && legacy.WOL.MAC != "" {
		hasWOL := false
		for _, a := range p.Automations {
			if a.Type == AutomationWOL {
				hasWOL = true
				break
			}
		}
		if !hasWOL {
			p.Automations = append(p.Automations, AutomationConfig{
				Type:             AutomationWOL,
				Enabled:          true,
				Events:           []LifecycleEvent{EventPreMount},
				MACAddress:       legacy.WOL.MAC,
				BroadcastAddress: legacy.WOL.Broadcast,
				Port:             legacy.WOL.Port,
			})
		}
	}
}
