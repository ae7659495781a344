package condense

import (
	"regexp"
	"strings"
)

// Buckets holds the typed output of directive extraction. Order follows the
// input; deduplication is exact and case-sensitive.
type Buckets struct {
	Facts       []string
	Preferences []string
	Constraints []string
	Decisions   []string
	Risks       []string
	Actions     []string
}

type bucketKind int

const (
	bucketFact bucketKind = iota
	bucketPreference
	bucketConstraint
	bucketDecision
	bucketRisk
	bucketAction
)

// lineRule is one entry of the ordered rule table. match returns the
// content to record and whether it should be split on clause separators.
// Rules are evaluated per line in order; the first match wins.
type lineRule struct {
	bucket bucketKind
	match  func(line string) (content string, split bool, ok bool)
}

var clauseSplitRe = regexp.MustCompile(`[；;]\s*`)

// Explicit, low-ambiguity markers only. Without a language model, anything
// fuzzier produces false positives from naive substring matching.
var (
	factLabelRe       = regexp.MustCompile(`^(?:事实|[Ff]act)[:：]\s*(.+)$`)
	prefLabelRe       = regexp.MustCompile(`^(?:我的偏好|偏好|我希望|我倾向于|我更喜欢|希望能|希望|[Pp]reference)[:：]\s*(.+)$`)
	prefSentenceRe    = regexp.MustCompile(`^(?:我希望|我倾向于|我更喜欢|希望能|希望|I prefer|I want|I would rather).+$`)
	constraintLabelRe = regexp.MustCompile(`^(?:约束|限制|[Cc]onstraint)[:：]\s*(.+)$`)
	decisionLabelRe   = regexp.MustCompile(`^(?:决策|决定|选择|我选|[Dd]ecision)[:：]\s*(.+)$`)
	decisionSentRe    = regexp.MustCompile(`^(?:我选[AB]|我选择|I choose|I chose|I decided).+$`)
	// Fallback: a line counts as a constraint only when it *starts* with a
	// prohibitive or obligatory modal.
	constraintSentRe = regexp.MustCompile(`^(?:必须|不要|不能|不许|禁止|保留|[Mm]ust not|[Mm]ust|[Kk]eep)(?:\s|[:：]|$)`)

	riskMarkerRe  = regexp.MustCompile(`踩坑|坑[:：]|[Pp]itfall|[Gg]otcha`)
	connRefusedRe = regexp.MustCompile(`(?i)connection refused|连接被拒`)
	containerRe   = regexp.MustCompile(`(?i)container|docker|容器`)
	corsRe        = regexp.MustCompile(`(?i)\bcors\b|跨域`)
	authOr500Re   = regexp.MustCompile(`(?i)\b401\b|\b403\b|\b500\b|auth|认证|鉴权`)
)

// commandPrefixes are the recognized first tokens of shell/tool invocations.
var commandPrefixes = map[string]struct{}{
	"docker": {}, "docker-compose": {}, "git": {}, "npm": {}, "pnpm": {},
	"npx": {}, "go": {}, "python": {}, "python3": {}, "pip": {},
	"uvicorn": {}, "curl": {}, "psql": {}, "redis-cli": {}, "make": {},
	"kubectl": {}, "pwsh": {}, "bash": {}, "sh": {},
}

func labelRule(bucket bucketKind, re *regexp.Regexp) lineRule {
	return lineRule{bucket: bucket, match: func(line string) (string, bool, bool) {
		m := re.FindStringSubmatch(line)
		if m == nil {
			return "", false, false
		}
		return m[1], true, true
	}}
}

func sentenceRule(bucket bucketKind, re *regexp.Regexp) lineRule {
	return lineRule{bucket: bucket, match: func(line string) (string, bool, bool) {
		if !re.MatchString(line) {
			return "", false, false
		}
		return line, false, true
	}}
}

func predicateRule(bucket bucketKind, pred func(string) bool) lineRule {
	return lineRule{bucket: bucket, match: func(line string) (string, bool, bool) {
		if !pred(line) {
			return "", false, false
		}
		return line, false, true
	}}
}

func isRisk(line string) bool {
	if riskMarkerRe.MatchString(line) {
		return true
	}
	if connRefusedRe.MatchString(line) {
		return true
	}
	// localhost inside a container is a classic networking mismatch.
	lower := strings.ToLower(line)
	if strings.Contains(lower, "localhost") && containerRe.MatchString(line) {
		return true
	}
	// A CORS symptom co-occurring with an auth failure or a 500 usually
	// means the CORS error is masking the real problem.
	if corsRe.MatchString(line) && authOr500Re.MatchString(line) {
		return true
	}
	return false
}

func isAction(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	_, ok := commandPrefixes[fields[0]]
	return ok
}

// rules is the ordered tagged-rule table. Label rules come before sentence
// fallbacks, and the broad constraint fallback goes last so labeled lines
// are never misfiled.
var rules = []lineRule{
	labelRule(bucketFact, factLabelRe),
	labelRule(bucketPreference, prefLabelRe),
	sentenceRule(bucketPreference, prefSentenceRe),
	labelRule(bucketConstraint, constraintLabelRe),
	labelRule(bucketDecision, decisionLabelRe),
	sentenceRule(bucketDecision, decisionSentRe),
	predicateRule(bucketRisk, isRisk),
	predicateRule(bucketAction, isAction),
	sentenceRule(bucketConstraint, constraintSentRe),
}

// Extract partitions cleaned lines into typed buckets. It is pure and
// deterministic: identical input always yields identical, order-preserving
// output. Finding nothing is valid; all buckets may come back empty.
func Extract(lines []string) Buckets {
	var b Buckets
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		for _, r := range rules {
			content, split, ok := r.match(line)
			if !ok {
				continue
			}
			items := []string{content}
			if split {
				items = splitClauses(content)
			}
			switch r.bucket {
			case bucketFact:
				b.Facts = append(b.Facts, items...)
			case bucketPreference:
				b.Preferences = append(b.Preferences, items...)
			case bucketConstraint:
				b.Constraints = append(b.Constraints, items...)
			case bucketDecision:
				b.Decisions = append(b.Decisions, items...)
			case bucketRisk:
				b.Risks = append(b.Risks, items...)
			case bucketAction:
				b.Actions = append(b.Actions, items...)
			}
			break
		}
	}

	b.Facts = uniq(b.Facts)
	b.Preferences = uniq(b.Preferences)
	b.Constraints = uniq(b.Constraints)
	b.Decisions = uniq(b.Decisions)
	b.Risks = uniq(b.Risks)
	b.Actions = uniq(b.Actions)
	return b
}

func splitClauses(text string) []string {
	parts := clauseSplitRe.Split(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func uniq(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, x := range items {
		k := strings.TrimSpace(x)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

var roleTagRe = regexp.MustCompile(`^\[[^\]]*\]\s*`)

// CleanLines strips role and tier tags (e.g. "[user] ", "[L2 score=0.93] ")
// from rendered context lines and drops blanks.
func CleanLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		s := strings.TrimSpace(roleTagRe.ReplaceAllString(strings.TrimSpace(l), ""))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
