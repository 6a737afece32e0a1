package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/scheduler"
)

func resetTriggerFlags() {
	triggerWindow, triggerType, triggerWeekKey, triggerDigestKey = "", "", "", ""
	triggerTestUser, triggerRunID = "", ""
}

func TestTriggerBody(t *testing.T) {
	t.Cleanup(resetTriggerFlags)

	t.Run("daily", func(t *testing.T) {
		resetTriggerFlags()
		triggerWindow = "manual"
		triggerTestUser = "u1"
		triggerType = "start" // ignored for daily

		assert.Equal(t, map[string]string{"windowType": "manual", "testUserId": "u1"}, triggerBody(domain.JobDailyMessages))
	})

	t.Run("trivia defaults to current week", func(t *testing.T) {
		resetTriggerFlags()
		triggerType = "reminder"

		body := triggerBody(domain.JobTrivia)
		assert.Equal(t, "reminder", body["type"])
		assert.Regexp(t, `^\d{4}-W\d{2}$`, body["week_key"])
		assert.NotContains(t, body, "runId")
	})

	t.Run("trivia explicit week", func(t *testing.T) {
		resetTriggerFlags()
		triggerType = "start"
		triggerWeekKey = "2026-W01"
		triggerRunID = "r1"

		assert.Equal(t, map[string]string{"type": "start", "week_key": "2026-W01", "runId": "r1"}, triggerBody(domain.JobTrivia))
	})

	t.Run("digest", func(t *testing.T) {
		resetTriggerFlags()
		assert.Empty(t, triggerBody(domain.JobGenerationDigest))

		triggerDigestKey = "2026-W42"
		assert.Equal(t, map[string]string{"digest_key": "2026-W42"}, triggerBody(domain.JobGenerationDigest))
	})
}

func TestTriggerCmd_UnknownJob(t *testing.T) {
	err := TriggerCmd.RunE(TriggerCmd, []string{"weekly_summary"})
	assert.EqualError(t, err, `unknown job "weekly_summary"`)

	_, ok := scheduler.JobPath("weekly_summary")
	assert.False(t, ok)
}
