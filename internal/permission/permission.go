// Package permission resolves a principal's roles into effective permissions
// and answers single-capability queries. Everything here is a pure function
// of its inputs; callers re-read roles from the store on every request.
package permission

import (
	"fmt"
	"sort"

	"github.com/frahmantamala/capgate/internal/capability"
	"github.com/frahmantamala/capgate/internal/role"
)

type Outcome int

const (
	Denied Outcome = iota
	Allowed
)

func (o Outcome) String() string {
	if o == Allowed {
		return "allowed"
	}
	return "denied"
}

// Rule is one (pattern, action) tuple together with the role it came from.
type Rule struct {
	Pattern     string                 `json:"pattern"`
	Action      role.Action            `json:"action"`
	Role        string                 `json:"role"`
	Priority    int                    `json:"priority"`
	Specificity capability.Specificity `json:"-"`
}

// Decision is the result of Check. Deciding is nil for the default deny.
type Decision struct {
	Outcome     Outcome  `json:"-"`
	Capability  string   `json:"capability"`
	Deciding    *Rule    `json:"deciding_rule,omitempty"`
	SourceRoles []string `json:"source_roles"`
	Reason      string   `json:"reason"`
}

func (d Decision) Allowed() bool {
	return d.Outcome == Allowed
}

type EffectivePermissions struct {
	AllowedCapabilities []string `json:"allowed_capabilities"`
	DeniedCapabilities  []string `json:"denied_capabilities"`
	SourceRoles         []string `json:"source_roles"`
}

// Allows gives the same answer Check would for the roles this set was
// resolved from. Role priority never changes an outcome, only which rule is
// reported as deciding, so the pattern sets are enough.
func (e EffectivePermissions) Allows(capabilityName string) bool {
	return capability.Allowed(e.AllowedCapabilities, e.DeniedCapabilities, capabilityName)
}

// Filter keeps the candidate capabilities the principal may use.
func (e EffectivePermissions) Filter(candidates []string) []string {
	return capability.Filter(e.AllowedCapabilities, e.DeniedCapabilities, candidates)
}

// Resolve collects every rule of every role into allow and deny pattern sets.
func Resolve(roles []*role.Role) EffectivePermissions {
	ordered := byPrecedence(roles)

	eff := EffectivePermissions{
		AllowedCapabilities: []string{},
		DeniedCapabilities:  []string{},
		SourceRoles:         []string{},
	}
	// Keyed by normalized pattern; the first spelling seen is kept.
	seenAllow := make(map[string]bool)
	seenDeny := make(map[string]bool)

	for _, r := range ordered {
		if len(r.Permissions) == 0 {
			continue
		}
		eff.SourceRoles = append(eff.SourceRoles, r.Name)
		for _, p := range r.Permissions {
			key := capability.Normalize(p.Capability)
			switch p.Action {
			case role.ActionAllow:
				if !seenAllow[key] {
					seenAllow[key] = true
					eff.AllowedCapabilities = append(eff.AllowedCapabilities, p.Capability)
				}
			case role.ActionDeny:
				if !seenDeny[key] {
					seenDeny[key] = true
					eff.DeniedCapabilities = append(eff.DeniedCapabilities, p.Capability)
				}
			}
		}
	}
	return eff
}

// Check decides a single capability:
//   - no matching rule denies;
//   - only the most specific matching rules are considered;
//   - among those any deny wins, whatever the role priorities;
//   - otherwise the highest-priority allow is reported as deciding.
func Check(capabilityName string, roles []*role.Role) Decision {
	if err := capability.ValidateCapability(capabilityName); err != nil {
		return Decision{
			Outcome:     Denied,
			Capability:  capabilityName,
			SourceRoles: []string{},
			Reason:      fmt.Sprintf("denied: %q is not a valid capability", capabilityName),
		}
	}

	ordered := byPrecedence(roles)

	var (
		matching []Rule
		sources  []string
	)
	for _, r := range ordered {
		contributed := false
		for _, p := range r.Permissions {
			if !p.Action.Valid() {
				continue
			}
			rank := capability.Rank(p.Capability, capabilityName)
			if rank == capability.NoMatch {
				continue
			}
			matching = append(matching, Rule{
				Pattern:     p.Capability,
				Action:      p.Action,
				Role:        r.Name,
				Priority:    r.Priority,
				Specificity: rank,
			})
			contributed = true
		}
		if contributed {
			sources = append(sources, r.Name)
		}
	}

	d := Decision{
		Outcome:     Denied,
		Capability:  capabilityName,
		SourceRoles: sources,
	}
	if d.SourceRoles == nil {
		d.SourceRoles = []string{}
	}
	if len(matching) == 0 {
		d.Reason = fmt.Sprintf("denied: no permission matches %s", capabilityName)
		return d
	}

	top := matching[0].Specificity
	for _, m := range matching[1:] {
		if m.Specificity > top {
			top = m.Specificity
		}
	}

	// matching is already in role precedence order, so the first hit of each
	// action at the top specificity is the deciding rule.
	var allow, deny *Rule
	for i := range matching {
		m := &matching[i]
		if m.Specificity != top {
			continue
		}
		switch m.Action {
		case role.ActionDeny:
			if deny == nil {
				deny = m
			}
		case role.ActionAllow:
			if allow == nil {
				allow = m
			}
		}
	}

	if deny != nil {
		d.Deciding = deny
		d.Reason = fmt.Sprintf("denied by role %s: %s", deny.Role, describe(deny.Pattern))
		return d
	}
	d.Outcome = Allowed
	d.Deciding = allow
	d.Reason = fmt.Sprintf("allowed by role %s: %s", allow.Role, describe(allow.Pattern))
	return d
}

func describe(pattern string) string {
	if kind := capability.KindOf(pattern); kind != capability.KindExact {
		return fmt.Sprintf("%s (%s)", pattern, kind)
	}
	return pattern
}

// byPrecedence orders roles by priority, highest first, then by name so
// results are deterministic.
func byPrecedence(roles []*role.Role) []*role.Role {
	out := make([]*role.Role, 0, len(roles))
	for _, r := range roles {
		if r != nil {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}
