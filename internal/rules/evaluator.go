// Package rules implements the contextual rule evaluation that decides
// whether a profile should be mounted under the current system context.
package rules

import (
	"strings"

	"github.com/PelicanWorks/mountkeeper/internal/models"
)

// Context is a snapshot of the live system state rules are evaluated
// against. Callers collect it up front; evaluation itself performs no I/O.
type Context struct {
	// SSID is the current Wi-Fi network name. Only meaningful when
	// SSIDKnown is true; a false SSIDKnown means no Wi-Fi association.
	SSID      string
	SSIDKnown bool

	// RunningApps holds the names of currently running applications.
	RunningApps []string

	// VPNInterfaces holds the names of active VPN interfaces.
	VPNInterfaces []string
}

// Evaluate decides whether the profile should be mounted in the given
// context. A profile without rules is always eligible.
func Evaluate(profile *models.MountProfile, ctx Context) bool {
	if len(profile.Rules) == 0 {
		return true
	}

	logic := profile.RuleLogic
	if logic == "" {
		logic = models.RuleLogicAll
	}

	for _, rule := range profile.Rules {
		ok := evaluateRule(rule, ctx)
		if logic == models.RuleLogicAll && !ok {
			return false
		}
		if logic == models.RuleLogicAny && ok {
			return true
		}
	}

	return logic == models.RuleLogicAll
}

func evaluateRule(rule models.MountRule, ctx Context) bool {
	switch rule.Type {
	case models.RuleTypeWiFi:
		return evaluateWiFi(rule, ctx)
	case models.RuleTypeApp:
		return evaluateApp(rule, ctx)
	case models.RuleTypeVPN:
		return evaluateVPN(rule, ctx)
	default:
		return false
	}
}

// evaluateWiFi compares the rule value against the current SSID. With no
// SSID at all, only not_equals can hold: not being on any network trivially
// satisfies "is not X".
func evaluateWiFi(rule models.MountRule, ctx Context) bool {
	if !ctx.SSIDKnown {
		return rule.Operator == models.OperatorNotEquals
	}

	switch rule.Operator {
	case models.OperatorEquals:
		return ctx.SSID == rule.Value
	case models.OperatorNotEquals:
		return ctx.SSID != rule.Value
	case models.OperatorContains:
		return strings.Contains(ctx.SSID, rule.Value)
	default:
		return false
	}
}

// evaluateApp checks whether an application matching the rule value is
// running. Matching is case-insensitive; not_equals negates the running
// check.
func evaluateApp(rule models.MountRule, ctx Context) bool {
	value := strings.ToLower(rule.Value)

	running := false
	for _, app := range ctx.RunningApps {
		name := strings.ToLower(app)
		if rule.Operator == models.OperatorContains {
			if strings.Contains(name, value) {
				running = true
				break
			}
		} else if name == value {
			running = true
			break
		}
	}

	if rule.Operator == models.OperatorNotEquals {
		return !running
	}
	return running
}

// evaluateVPN checks VPN state. An empty rule value is a pure connectivity
// check; a non-empty value matches interface names case-insensitively.
func evaluateVPN(rule models.MountRule, ctx Context) bool {
	connected := len(ctx.VPNInterfaces) > 0

	if rule.Value == "" {
		if rule.Operator == models.OperatorNotEquals {
			return !connected
		}
		return connected
	}

	value := strings.ToLower(rule.Value)
	matched := false
	for _, iface := range ctx.VPNInterfaces {
		name := strings.ToLower(iface)
		if rule.Operator == models.OperatorContains {
			if strings.Contains(name, value) {
				matched = true
				break
			}
		} else if name == value {
			matched = true
			break
		}
	}

	if rule.Operator == models.OperatorNotEquals {
		// Not being connected at all vacuously satisfies "is not X".
		return !matched
	}
	return matched
}
