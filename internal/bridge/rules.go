package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/span-bridge/internal/infrastructure/config"
)

// Topic level wildcards per the MQTT specification.
const (
	wildcardSingle = "+"
	wildcardMulti  = "#"
)

// Rule is one compiled forwarding rule.
//
// A rule matches messages arriving on Source whose topic matches Pattern,
// and maps them to a destination topic built from Template with captured
// wildcard segments substituted for {0}, {1}, ... placeholders.
type Rule struct {
	Source      Endpoint
	Destination Endpoint

	pattern  []string // filter split into levels
	template []string // destination topic split into levels

	// qosOverride is nil for "preserve".
	qosOverride *byte

	// dropRetain clears the retained flag on forwarded messages.
	dropRetain bool

	// captureCount is the number of wildcard levels in pattern.
	// multiCapture is true when the last capture is a "#" remainder.
	captureCount int
	multiCapture bool
}

// Target is a resolved forwarding destination for one inbound message.
type Target struct {
	Destination Endpoint
	Topic       string
	QoS         byte
	Retained    bool
}

// RuleSet is an ordered, compiled rule list.
//
// Compilation happens once at startup; a RuleSet is immutable afterwards
// and safe for concurrent use without locking.
type RuleSet struct {
	rules []Rule
}

// CompileRules compiles configuration rules into a RuleSet.
//
// All structural mistakes are caught here so that forwarding never has to
// deal with a malformed rule: self-referencing rules, bad wildcard
// placement, and placeholder indices outside the capture range are fatal.
//
// Parameters:
//   - cfgRules: Ordered rule list from configuration
//
// Returns:
//   - *RuleSet: Compiled rules, in configuration order
//   - error: Wrapping ErrInvalidRule on the first bad rule
func CompileRules(cfgRules []config.RuleConfig) (*RuleSet, error) {
	if len(cfgRules) == 0 {
		return nil, fmt.Errorf("%w: at least one rule is required", ErrInvalidRule)
	}

	rules := make([]Rule, 0, len(cfgRules))
	for i, rc := range cfgRules {
		rule, err := compileRule(rc)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}

	return &RuleSet{rules: rules}, nil
}

// compileRule compiles a single configuration rule.
func compileRule(rc config.RuleConfig) (Rule, error) {
	source := Endpoint(rc.Source)
	destination := Endpoint(rc.Destination)

	if !source.Valid() {
		return Rule{}, fmt.Errorf("%w: source %q", ErrInvalidRule, rc.Source)
	}
	if !destination.Valid() {
		return Rule{}, fmt.Errorf("%w: destination %q", ErrInvalidRule, rc.Destination)
	}
	if source == destination {
		return Rule{}, fmt.Errorf("%w (a bridge must not map an endpoint to itself)", ErrSelfBridge)
	}

	pattern, captureCount, multiCapture, err := compilePattern(rc.Pattern)
	if err != nil {
		return Rule{}, err
	}

	template, err := compileTemplate(rc.Template, captureCount, multiCapture)
	if err != nil {
		return Rule{}, err
	}

	var qosOverride *byte
	switch rc.QoS {
	case "", config.QoSPreserve:
	case "0", "1", "2":
		q := byte(rc.QoS[0] - '0')
		qosOverride = &q
	default:
		return Rule{}, fmt.Errorf("%w: qos %q", ErrInvalidRule, rc.QoS)
	}

	return Rule{
		Source:       source,
		Destination:  destination,
		pattern:      pattern,
		template:     template,
		qosOverride:  qosOverride,
		dropRetain:   rc.Retain == "never",
		captureCount: captureCount,
		multiCapture: multiCapture,
	}, nil
}

// compilePattern validates and splits an MQTT topic filter.
//
// Standard wildcard rules apply: "+" and "#" must occupy a whole level,
// and "#" is only valid as the final level.
func compilePattern(pattern string) (levels []string, captures int, multi bool, err error) {
	if pattern == "" {
		return nil, 0, false, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	levels = strings.Split(pattern, "/")
	for i, level := range levels {
		switch level {
		case wildcardSingle:
			captures++
		case wildcardMulti:
			if i != len(levels)-1 {
				return nil, 0, false, fmt.Errorf("%w: %q must be the final level in %q", ErrInvalidPattern, wildcardMulti, pattern)
			}
			captures++
			multi = true
		default:
			if strings.ContainsAny(level, "+#") {
				return nil, 0, false, fmt.Errorf("%w: wildcard inside level %q in %q", ErrInvalidPattern, level, pattern)
			}
		}
	}

	return levels, captures, multi, nil
}

// compileTemplate validates and splits a destination topic template.
//
// Placeholders reference captures by index: {0}, {1}, ... A placeholder fed
// by a "#" capture expands to multiple levels and must therefore be the
// final level of the template, alone.
func compileTemplate(template string, captures int, multi bool) ([]string, error) {
	if template == "" {
		return nil, fmt.Errorf("%w: empty template", ErrInvalidTemplate)
	}
	if strings.ContainsAny(template, "+#") {
		return nil, fmt.Errorf("%w: wildcards not allowed in template %q", ErrInvalidTemplate, template)
	}

	levels := strings.Split(template, "/")
	multiIndex := captures - 1 // index of the "#" capture, when multi

	for i, level := range levels {
		for _, idx := range placeholderIndices(level) {
			if idx >= captures {
				return nil, fmt.Errorf("%w: placeholder {%d} exceeds %d captures in %q", ErrInvalidTemplate, idx, captures, template)
			}
			if multi && idx == multiIndex {
				if i != len(levels)-1 || level != fmt.Sprintf("{%d}", idx) {
					return nil, fmt.Errorf("%w: multi-level placeholder {%d} must be the final level of %q, alone", ErrInvalidTemplate, idx, template)
				}
			}
		}
	}

	return levels, nil
}

// placeholderIndices extracts the {N} placeholder indices used in one
// template level. Malformed braces are treated as literal text.
func placeholderIndices(level string) []int {
	var indices []int
	for i := 0; i < len(level); {
		open := strings.IndexByte(level[i:], '{')
		if open < 0 {
			break
		}
		open += i
		closing := strings.IndexByte(level[open:], '}')
		if closing < 0 {
			break
		}
		closing += open
		if idx, err := strconv.Atoi(level[open+1 : closing]); err == nil && idx >= 0 {
			indices = append(indices, idx)
		}
		i = closing + 1
	}
	return indices
}

// matchTopic matches a topic against a compiled filter, collecting the
// wildcard captures in filter order. A "#" level captures the joined
// remaining topic levels (possibly empty).
func matchTopic(filter []string, topic string) (captures []string, ok bool) {
	levels := strings.Split(topic, "/")

	for i, f := range filter {
		switch f {
		case wildcardMulti:
			captures = append(captures, strings.Join(levels[i:], "/"))
			return captures, true
		case wildcardSingle:
			if i >= len(levels) {
				return nil, false
			}
			captures = append(captures, levels[i])
		default:
			if i >= len(levels) || levels[i] != f {
				return nil, false
			}
		}
	}

	if len(levels) != len(filter) {
		return nil, false
	}
	return captures, true
}

// expandTemplate substitutes captures into the compiled template levels.
func expandTemplate(template []string, captures []string) string {
	out := make([]string, len(template))
	for i, level := range template {
		out[i] = level
		for idx, capture := range captures {
			out[i] = strings.ReplaceAll(out[i], "{"+strconv.Itoa(idx)+"}", capture)
		}
	}
	return strings.Join(out, "/")
}

// Map resolves the forwarding targets for a message received on source.
//
// All matching rules fire, in configuration order, so one source topic can
// fan out to several destination topics. An empty result means the message
// matched no rule and is dropped, not errored.
//
// Parameters:
//   - source: Endpoint the message arrived on
//   - topic: The message topic
//   - qos: The received QoS, used when a rule preserves QoS
//   - retained: The received retained flag, used when a rule preserves it
//
// Returns:
//   - []Target: Resolved destinations, in rule order; nil when no rule matches
func (rs *RuleSet) Map(source Endpoint, topic string, qos byte, retained bool) []Target {
	var targets []Target

	for i := range rs.rules {
		rule := &rs.rules[i]
		if rule.Source != source {
			continue
		}
		captures, ok := matchTopic(rule.pattern, topic)
		if !ok {
			continue
		}

		outQoS := qos
		if rule.qosOverride != nil {
			outQoS = *rule.qosOverride
		}
		outRetained := retained
		if rule.dropRetain {
			outRetained = false
		}

		targets = append(targets, Target{
			Destination: rule.Destination,
			Topic:       expandTemplate(rule.template, captures),
			QoS:         outQoS,
			Retained:    outRetained,
		})
	}

	return targets
}

// Filters returns the deduplicated source patterns for one endpoint, in
// rule order. These are the subscriptions the endpoint's session needs.
func (rs *RuleSet) Filters(source Endpoint) []string {
	seen := make(map[string]struct{})
	var filters []string

	for i := range rs.rules {
		rule := &rs.rules[i]
		if rule.Source != source {
			continue
		}
		filter := strings.Join(rule.pattern, "/")
		if _, dup := seen[filter]; dup {
			continue
		}
		seen[filter] = struct{}{}
		filters = append(filters, filter)
	}

	return filters
}

// MatchesDestination reports whether a topic received on endpoint lies in
// the destination namespace of any rule publishing to that endpoint.
//
// Such a topic was produced by this bridge (or a peer with the same rule
// set) and forwarding it again would loop. Unlike the echo cache this
// check survives bridge restarts, because it derives purely from the rule
// set. Template levels containing placeholders match any single level; a
// trailing multi-level placeholder matches the whole remaining subtree.
func (rs *RuleSet) MatchesDestination(endpoint Endpoint, topic string) bool {
	for i := range rs.rules {
		rule := &rs.rules[i]
		if rule.Destination != endpoint {
			continue
		}
		if _, ok := matchTopic(rule.guardPattern(), topic); ok {
			return true
		}
	}
	return false
}

// guardPattern derives a topic filter from the rule's template: literal
// levels stay literal, placeholder-bearing levels become "+", and a final
// multi-level placeholder becomes "#".
func (r *Rule) guardPattern() []string {
	guard := make([]string, len(r.template))
	for i, level := range r.template {
		switch {
		case !strings.Contains(level, "{"):
			guard[i] = level
		case r.multiCapture && i == len(r.template)-1 && level == fmt.Sprintf("{%d}", r.captureCount-1):
			guard[i] = wildcardMulti
		default:
			guard[i] = wildcardSingle
		}
	}
	return guard
}

// Len returns the number of compiled rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}
