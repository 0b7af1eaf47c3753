package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

func TestBuildActionPrompt_Shape(t *testing.T) {
	s := domain.NewState("conv-1")
	s.UserQuery = "tap the save button"
	s.ScreenContext = "button: Save\nbutton: Cancel"
	s.History = []domain.Message{
		{Role: domain.RoleUser, Content: "open notes", Timestamp: time.Now()},
		{Role: domain.RoleAssistant, Content: "Notes is open.", Timestamp: time.Now()},
	}

	prompt := buildActionPrompt(s)

	assert.True(t, strings.HasPrefix(prompt, "<|system|>\n"), "prompt starts with the system tag")
	assert.Contains(t, prompt, "Output ONLY valid JSON")
	assert.Contains(t, prompt, "<|screen|>\nbutton: Save\nbutton: Cancel\n</|screen|>")
	assert.Contains(t, prompt, "<|history|>\nuser: open notes\nassistant: Notes is open.\n</|history|>")
	assert.Contains(t, prompt, "<|user|>\ntap the save button\n</|user|>")
	assert.True(t, strings.HasSuffix(prompt, "<|assistant|>\n"), "prompt ends ready for the completion")

	// Sections appear in reading order.
	assert.Less(t, strings.Index(prompt, "<|screen|>"), strings.Index(prompt, "<|history|>"))
	assert.Less(t, strings.Index(prompt, "<|history|>"), strings.Index(prompt, "<|user|>"))
}

func TestBuildActionPrompt_TruncatesScreen(t *testing.T) {
	s := domain.NewState("conv-1")
	s.UserQuery = "scroll down"
	s.ScreenContext = strings.Repeat("a", promptScreenLimit) + "OVERFLOW"

	prompt := buildActionPrompt(s)

	assert.NotContains(t, prompt, "OVERFLOW")
	assert.Contains(t, prompt, strings.Repeat("a", promptScreenLimit))
}

func TestBuildActionPrompt_OmitsEmptySections(t *testing.T) {
	s := domain.NewState("conv-1")
	s.UserQuery = "go back"

	prompt := buildActionPrompt(s)

	assert.NotContains(t, prompt, "<|screen|>")
	assert.NotContains(t, prompt, "<|history|>")
	assert.Contains(t, prompt, "<|user|>\ngo back\n")
}

func TestBuildChatPrompt_KeepsRecentHistoryOnly(t *testing.T) {
	s := domain.NewState("conv-1")
	s.UserQuery = "and after that?"
	for i := 0; i < 10; i++ {
		s.History = append(s.History, domain.Message{
			Role:    domain.RoleUser,
			Content: strings.Repeat("x", 3) + string(rune('0'+i)),
		})
	}

	prompt := buildChatPrompt(s)

	assert.NotContains(t, prompt, "xxx3", "older history is dropped")
	assert.Contains(t, prompt, "xxx4", "the window starts at the 5th newest")
	assert.Contains(t, prompt, "xxx9")
}

func TestBuildCapabilityPrompt_EntitiesAreSorted(t *testing.T) {
	s := domain.NewState("conv-1")
	s.UserQuery = "set an alarm"
	s.Entities = map[string]string{"zone": "UTC", "app": "clock", "hour": "7"}

	prompt := buildCapabilityPrompt(s)

	assert.Contains(t, prompt, "<|entities|>\napp: clock\nhour: 7\nzone: UTC\n</|entities|>")
}

func TestPromptAssemblyIsDeterministic(t *testing.T) {
	s := domain.NewState("conv-1")
	s.UserQuery = "set an alarm for 7"
	s.ScreenContext = "clock app"
	s.Entities = map[string]string{"b": "2", "a": "1", "c": "3"}
	s.History = []domain.Message{{Role: domain.RoleUser, Content: "hi"}}

	for i := 0; i < 20; i++ {
		assert.Equal(t, buildCapabilityPrompt(s), buildCapabilityPrompt(s))
		assert.Equal(t, buildActionPrompt(s), buildActionPrompt(s))
	}
}
