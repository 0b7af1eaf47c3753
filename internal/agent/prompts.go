package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

const (
	// promptScreenLimit truncates the screen context inside prompts.
	// The sanitizer admits more; the prompt keeps the context window
	// budget for history and generation.
	promptScreenLimit = 16000

	// historyWindow is how many trailing history messages a prompt
	// includes.
	historyWindow = 6
)

const actionPreamble = `You are Sentinel, an Android accessibility agent. Output ONLY valid JSON.

RULES:
1. Output ONLY JSON, nothing else
2. Target must match exact text from screen
3. If unsure: {"action":"NONE","reasoning":"unclear"}

Available actions:
- CLICK: {"action":"CLICK","target":"element_id","reasoning":"why"}
- TYPE: {"action":"TYPE","target":"element_id","text":"what to type","reasoning":"why"}
- SCROLL: {"action":"SCROLL","direction":"UP|DOWN|LEFT|RIGHT","reasoning":"why"}
- BACK: {"action":"BACK","reasoning":"why"}
- HOME: {"action":"HOME","reasoning":"why"}
- WAIT: {"action":"WAIT","reasoning":"why"}
- NONE: {"action":"NONE","reasoning":"why nothing needed"}`

const classifyPreamble = `You are Sentinel, an Android assistant. Classify the user's request.
Output ONLY a JSON object shaped like:
{"intent":"...","confidence":0.0,"entities":{"name":"value"}}

Intents:
- device_action: one screen interaction (tap, type, scroll, navigate)
- capability: use a device capability (alarms, messages, calendar, ...)
- multi_step: a goal that needs several capability steps in order
- chat: anything conversational`

const planPreamble = `You are Sentinel, an Android assistant. Break the user's goal into ordered capability steps.
Output ONLY a JSON object shaped like:
{"goal":"...","steps":[{"description":"...","capability":"...","operation":"...","params":{}}]}`

const capabilityPreamble = `You are Sentinel, an Android assistant. Pick the one device capability call that serves the user's request.
Output ONLY a JSON object shaped like:
{"capability":"...","operation":"...","params":{}}`

const chatPreamble = `You are Sentinel, a helpful on-device assistant. Reply briefly and directly to the user. Plain text only.`

// buildActionPrompt assembles the device-action prompt: preamble,
// truncated screen context, recent history, then the query. The
// assembly is deterministic so a given state always yields the same
// prompt.
func buildActionPrompt(s domain.State) string {
	return assemble(actionPreamble, s, true)
}

func buildClassifyPrompt(s domain.State) string {
	return assemble(classifyPreamble, s, true)
}

func buildPlanPrompt(s domain.State) string {
	return assemble(planPreamble, s, false)
}

func buildCapabilityPrompt(s domain.State) string {
	var b strings.Builder
	writePreamble(&b, capabilityPreamble)
	if len(s.Entities) > 0 {
		b.WriteString("<|entities|>\n")
		for _, k := range sortedKeys(s.Entities) {
			fmt.Fprintf(&b, "%s: %s\n", k, s.Entities[k])
		}
		b.WriteString("</|entities|>\n\n")
	}
	writeQuery(&b, s.UserQuery)
	return b.String()
}

func buildChatPrompt(s domain.State) string {
	return assemble(chatPreamble, s, false)
}

func assemble(preamble string, s domain.State, withScreen bool) string {
	var b strings.Builder
	writePreamble(&b, preamble)

	if withScreen && s.ScreenContext != "" {
		screen := s.ScreenContext
		if len(screen) > promptScreenLimit {
			screen = screen[:promptScreenLimit]
		}
		b.WriteString("<|screen|>\n")
		b.WriteString(screen)
		b.WriteString("\n</|screen|>\n\n")
	}

	if history := recentHistory(s.History); len(history) > 0 {
		b.WriteString("<|history|>\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("</|history|>\n\n")
	}

	writeQuery(&b, s.UserQuery)
	return b.String()
}

func writePreamble(b *strings.Builder, preamble string) {
	b.WriteString("<|system|>\n")
	b.WriteString(preamble)
	b.WriteString("\n</|system|>\n\n")
}

func writeQuery(b *strings.Builder, query string) {
	b.WriteString("<|user|>\n")
	b.WriteString(query)
	b.WriteString("\n</|user|>\n\n<|assistant|>\n")
}

func recentHistory(history []domain.Message) []domain.Message {
	if len(history) <= historyWindow {
		return history
	}
	return history[len(history)-historyWindow:]
}

// sortedKeys keeps entity order stable so prompt assembly stays
// deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
