// ABOUTME: Tests for the event value type and kind classification
// ABOUTME: Covers list-affecting kinds, audience membership, and immutability

package event

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffectsConversationList(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindMessageCreated, true},
		{KindMessageDeleted, true},
		{KindConversationUpdated, true},
		{KindParticipantCreated, true},
		{KindParticipantUpdated, true},
		{KindConversationStateUpdated, false},
		{KindAssistantStateUpdated, false},
		{Kind("assistant.custom.kind"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.AffectsConversationList())
		})
	}
}

func TestNew(t *testing.T) {
	convID := uuid.New()
	ev := New(convID, KindMessageCreated, map[string]any{"content": "hi"})

	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, convID, ev.ConversationID)
	assert.Equal(t, KindMessageCreated, ev.Kind)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Empty(t, ev.CorrelationID)
	assert.Equal(t, "hi", ev.Data["content"])
}

func TestNew_NilDataBecomesEmptyMap(t *testing.T) {
	ev := New(uuid.New(), KindMessageCreated, nil)
	require.NotNil(t, ev.Data)
	assert.Empty(t, ev.Data)
}

func TestWithCorrelationID_LeavesReceiverUnchanged(t *testing.T) {
	ev := New(uuid.New(), KindMessageCreated, nil)
	tagged := ev.WithCorrelationID("corr-42")

	assert.Equal(t, "corr-42", tagged.CorrelationID)
	assert.Empty(t, ev.CorrelationID)
	assert.Equal(t, ev.ID, tagged.ID)
}

func TestAudienceIncludes(t *testing.T) {
	assert.True(t, AllAudience.Includes(AudienceUser))
	assert.True(t, AllAudience.Includes(AudienceAssistant))

	userOnly := Audience{AudienceUser}
	assert.True(t, userOnly.Includes(AudienceUser))
	assert.False(t, userOnly.Includes(AudienceAssistant))

	var empty Audience
	assert.False(t, empty.Includes(AudienceUser))
	assert.False(t, empty.Includes(AudienceAssistant))
}
