package decision

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/baton/pkg/models"
)

var (
	// packetLabel marks an explicitly labelled packet; the object may be
	// fenced or bare.
	packetLabel = regexp.MustCompile("(?i)HANDOFF_PACKET\\s*:\\s*(?:```[a-zA-Z]*\\s*)?")
	// labelSuffix detects a fence that belongs to a preceding label.
	labelSuffix = regexp.MustCompile(`(?i)HANDOFF_PACKET\s*:\s*$`)
	// jsonFence matches a generic ```json block.
	jsonFence = regexp.MustCompile("(?is)```json\\s*\\n?(.*?)```")
	// trailingComma matches trailing commas before ] or }.
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

type candidate struct {
	pos  int
	body string
}

// ExtractPacket finds the handoff packet an agent embedded in its response.
// Both HANDOFF_PACKET: blocks and generic ```json blocks are considered and
// the last one in the text that decodes to a valid packet wins.
func ExtractPacket(text string) (*models.HandoffPacket, bool) {
	cands := packetCandidates(text)
	for i := len(cands) - 1; i >= 0; i-- {
		p, err := models.PacketFromJSON([]byte(cleanJSON(cands[i].body)))
		if err == nil {
			return p, true
		}
	}
	return nil, false
}

func packetCandidates(text string) []candidate {
	var out []candidate
	for _, loc := range packetLabel.FindAllStringIndex(text, -1) {
		if obj, ok := balancedObject(text[loc[1]:]); ok {
			out = append(out, candidate{pos: loc[0], body: obj})
		}
	}
	for _, loc := range jsonFence.FindAllStringSubmatchIndex(text, -1) {
		if labelSuffix.MatchString(text[:loc[0]]) {
			continue
		}
		out = append(out, candidate{pos: loc[0], body: strings.TrimSpace(text[loc[2]:loc[3]])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out
}

// balancedObject returns the first {...} object in s, honouring string
// literals so braces inside values do not end the object early.
func balancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// cleanJSON removes // comments and trailing commas, both common in model
// output.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingComma.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

// SynthesizePacket builds the packet recorded for a step whose response did
// not carry one. The next-step hint follows the decision.
func SynthesizePacket(agent models.Agent, d models.AgentDecision, now time.Time) *models.HandoffPacket {
	return &models.HandoffPacket{
		CompletedTaskID:    fmt.Sprintf("%s-%s", strings.ToLower(string(agent)), uuid.NewString()[:8]),
		AgentName:          string(agent),
		Status:             models.PacketSuccess,
		ArtifactsProduced:  []string{},
		NextStepSuggestion: NextStepFor(agent, d),
		Notes:              d.Reason,
		Timestamp:          models.FormatTimestamp(now),
	}
}

// FailurePacket builds the packet recorded when a step fails.
func FailurePacket(agent models.Agent, cause error, now time.Time) *models.HandoffPacket {
	return &models.HandoffPacket{
		CompletedTaskID:    fmt.Sprintf("%s-%s", strings.ToLower(string(agent)), uuid.NewString()[:8]),
		AgentName:          string(agent),
		Status:             models.PacketFailure,
		ArtifactsProduced:  []string{},
		NextStepSuggestion: models.NextStepHumanApproval,
		Notes:              cause.Error(),
		Timestamp:          models.FormatTimestamp(now),
		BlockingIssues:     []string{cause.Error()},
	}
}

// NextStepFor maps a decision made by agent to a packet routing hint.
func NextStepFor(agent models.Agent, d models.AgentDecision) models.NextStep {
	switch d.Action {
	case models.ActionComplete:
		return models.NextStepWorkflowComplete
	case models.ActionHumanReview:
		return models.NextStepHumanApproval
	case models.ActionNextAgent:
		if d.Target.Valid() {
			return models.NextStepFor(d.Target)
		}
	case models.ActionParallel:
		for _, t := range d.Targets {
			if t.Valid() {
				return models.NextStepFor(t)
			}
		}
	}
	return models.NextStepFor(agent)
}
