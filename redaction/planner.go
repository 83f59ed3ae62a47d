package redaction

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"zkrwa-prover/providers"
	"zkrwa-prover/shared"
)

const phase = "computing_disclosure"

// Planner computes which transcript bytes to reveal for a fixed policy.
// It holds no per-session state and is safe for concurrent use.
type Planner struct {
	policy *Policy
	logger *zap.Logger
}

// NewPlanner creates a planner for policy
func NewPlanner(policy *Policy, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{policy: policy, logger: logger}
}

// Policy returns the policy the planner enforces
func (p *Planner) Policy() *Policy {
	return p.policy
}

// PlanSent reveals the whole sent transcript except the secret-bearing
// header values of the first request, in every occurrence of the header
func (p *Planner) PlanSent(sent []byte) (RangeSet, error) {
	if len(sent) == 0 {
		return RangeSet{}, unsatisfiable("sent transcript is empty", nil)
	}

	requests, err := providers.ParseRequests(sent)
	if err != nil {
		return RangeSet{}, shared.NewSessionError(shared.KindParse, phase, "failed to parse sent transcript", err)
	}
	if len(requests) == 0 {
		return RangeSet{}, unsatisfiable("no request found in sent transcript", nil)
	}
	req := requests[0]

	var hidden []Range
	for _, rule := range p.policy.RulesFor(ScopeRequestHeader) {
		// a repeated header carries the secret in every occurrence
		headers := req.HeadersWithName(rule.Path)
		if len(headers) == 0 {
			return RangeSet{}, unsatisfiable(fmt.Sprintf("request header %q not found", rule.Path), providers.ErrHeaderNotFound)
		}

		for _, h := range headers {
			switch rule.Constraint {
			case RedactValue:
				hidden = append(hidden, Range{Start: h.Value.Start, End: h.Value.End})
			case RedactCredential:
				hidden = append(hidden, credentialRange(h))
			case RevealHeader:
				// revealed by default
			default:
				return RangeSet{}, unsatisfiable(fmt.Sprintf("constraint %s not valid for %s", rule.Constraint, rule.Scope), nil)
			}
		}
	}

	hiddenSet := NewRangeSet(hidden...)
	reveal := hiddenSet.Complement(len(sent))

	p.logger.Debug("Sent disclosure planned",
		zap.String("policy", p.policy.Name),
		zap.Int("requests", len(requests)),
		zap.Int("sent_bytes", len(sent)),
		zap.Int("hidden_bytes", hiddenSet.Len()),
		zap.Int("ranges", len(reveal.ranges)))

	return reveal, nil
}

// PlanReceived reveals exactly the response fields and headers named by the policy
func (p *Planner) PlanReceived(received []byte) (RangeSet, error) {
	if len(received) == 0 {
		return RangeSet{}, unsatisfiable("received transcript is empty", nil)
	}

	resp, err := providers.ParseResponse(received)
	if err != nil {
		return RangeSet{}, shared.NewSessionError(shared.KindParse, phase, "failed to parse received transcript", err)
	}

	var headers []Range
	for _, rule := range p.policy.RulesFor(ScopeResponseHeader) {
		h, ok := resp.Header(rule.Path)
		if !ok {
			return RangeSet{}, unsatisfiable(fmt.Sprintf("response header %q not found", rule.Path), providers.ErrHeaderNotFound)
		}
		switch rule.Constraint {
		case RevealHeader:
			headers = append(headers, Range{Start: h.Line.Start, End: h.Line.End})
		case RevealValue:
			headers = append(headers, Range{Start: h.Value.Start, End: h.Value.End})
		default:
			return RangeSet{}, unsatisfiable(fmt.Sprintf("constraint %s not valid for %s", rule.Constraint, rule.Scope), nil)
		}
	}

	var fields []Range
	if jsonRules := p.policy.RulesFor(ScopeResponseJSON); len(jsonRules) > 0 {
		doc, err := providers.ParseResponseJSON(resp)
		if err != nil {
			return RangeSet{}, shared.NewSessionError(shared.KindParse, phase, "failed to parse response body", err)
		}

		for _, rule := range jsonRules {
			field, err := doc.Field(rule.Path)
			if err != nil {
				if errors.Is(err, providers.ErrFieldNotFound) {
					return RangeSet{}, unsatisfiable(fmt.Sprintf("response field %q not resolvable", rule.Path), err)
				}
				return RangeSet{}, shared.NewSessionError(shared.KindParse, phase, fmt.Sprintf("response field %q", rule.Path), err)
			}

			var span providers.Span
			switch rule.Constraint {
			case RevealKeyValue:
				span = field.KeyValue()
			case RevealValue:
				span = field.Value
			default:
				return RangeSet{}, unsatisfiable(fmt.Sprintf("constraint %s not valid for %s", rule.Constraint, rule.Scope), nil)
			}
			fields = append(fields, Range{Start: span.Start, End: span.End})
		}
	}

	set := NewRangeSet(headers...).Union(NewRangeSet(fields...))

	p.logger.Debug("Received disclosure planned",
		zap.String("policy", p.policy.Name),
		zap.Int("status_code", resp.StatusCode),
		zap.Int("received_bytes", len(received)),
		zap.Int("revealed_bytes", set.Len()),
		zap.Int("ranges", len(set.ranges)))

	return set, nil
}

// credentialRange hides the token after an auth scheme, or the whole value
// when there is no scheme
func credentialRange(h providers.HeaderSpan) Range {
	idx := strings.IndexAny(h.Text, " \t")
	if idx == -1 {
		return Range{Start: h.Value.Start, End: h.Value.End}
	}
	tokenStart := idx
	for tokenStart < len(h.Text) && (h.Text[tokenStart] == ' ' || h.Text[tokenStart] == '\t') {
		tokenStart++
	}
	return Range{Start: h.Value.Start + tokenStart, End: h.Value.End}
}

func unsatisfiable(message string, cause error) error {
	return shared.NewSessionError(shared.KindPlanUnsatisfiable, phase, message, cause)
}
