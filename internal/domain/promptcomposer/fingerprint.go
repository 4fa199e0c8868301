package promptcomposer

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// fingerprint computes a stable cache key for ctx plus the component set's
// current discovery generation, so Assemble only re-renders when something
// that could change its output actually changed. Matches the teacher's
// "channel|model|intent|focusLen|userRulesLen"-style key idea, widened to
// cover every field Assemble branches on and made collision-resistant with
// a hash instead of raw length counts.
func fingerprint(ctx Context, discoveryGeneration int) string {
	var sb strings.Builder
	sb.WriteString(ctx.Channel)
	sb.WriteByte('|')
	sb.WriteString(ctx.Model)
	sb.WriteByte('|')
	sb.WriteString(ctx.Workspace)
	sb.WriteByte('|')

	tools := append([]string(nil), ctx.RegisteredTools...)
	sort.Strings(tools)
	sb.WriteString(strings.Join(tools, ","))
	sb.WriteByte('|')

	skills := append([]string(nil), ctx.SkillNames...)
	sort.Strings(skills)
	sb.WriteString(strings.Join(skills, ","))
	sb.WriteByte('|')

	sb.WriteString(strconv.Itoa(len(ctx.AgentPrompt)))
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatBool(ctx.A2UIEnabled))
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatBool(ctx.PlanMode))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(len(ctx.QuestionText)))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(len(ctx.UserRules)))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(len(ctx.FocusContext)))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(discoveryGeneration))

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:16])
}
