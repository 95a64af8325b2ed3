package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEssayStatusValid(t *testing.T) {
	for _, s := range []EssayStatus{EssayStatusPending, EssayStatusProcessing, EssayStatusProcessed, EssayStatusFailed} {
		assert.True(t, s.Valid(), s.String())
	}
	assert.False(t, EssayStatus("queued").Valid())
	assert.False(t, EssayStatus("").Valid())
}

func TestEssayStatusTransitionsForwardOnly(t *testing.T) {
	all := []EssayStatus{EssayStatusPending, EssayStatusProcessing, EssayStatusProcessed, EssayStatusFailed}

	allowed := map[EssayStatus]map[EssayStatus]bool{
		EssayStatusPending:    {EssayStatusProcessing: true},
		EssayStatusProcessing: {EssayStatusProcessed: true, EssayStatusFailed: true},
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestEssayStatusTerminal(t *testing.T) {
	assert.False(t, EssayStatusPending.Terminal())
	assert.False(t, EssayStatusProcessing.Terminal())
	assert.True(t, EssayStatusProcessed.Terminal())
	assert.True(t, EssayStatusFailed.Terminal())
}
