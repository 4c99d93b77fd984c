package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/calma/backend/internal/model/chat"
)

func label(s string) *string { return &s }

func TestScoreEmotionAndKeyword(t *testing.T) {
	a := Score([]chat.Turn{{
		Role:    chat.RoleUser,
		Content: "Tengo miedo, en la escuela me hacen bullying",
		Emotion: label("miedo"),
	}})

	assert.GreaterOrEqual(t, a.Score, 2)
	assert.True(t, a.HasKeyword)
	assert.Equal(t, "bullying", a.RiskType)
}

func TestScoreCountsEveryOccurrence(t *testing.T) {
	a := Score([]chat.Turn{{Role: chat.RoleUser, Content: "drogas, más DROGAS y alcohol"}})

	assert.Equal(t, 3, a.Score)
	assert.Equal(t, "drogas", a.RiskType)
}

func TestScoreIsAdditiveAcrossTurns(t *testing.T) {
	a := Score([]chat.Turn{
		{Role: chat.RoleUser, Content: "hoy", Emotion: label("tristeza")},
		{Role: chat.RoleUser, Content: "ayer", Emotion: label("ira")},
		{Role: chat.RoleUser, Content: "mañana", Emotion: label("alegría")},
	})

	assert.Equal(t, 2, a.Score)
	assert.False(t, a.HasKeyword)
	assert.Equal(t, "ira", a.RiskType)
}

func TestShouldAlert(t *testing.T) {
	assert.True(t, Assessment{Score: 3}.ShouldAlert(3))
	assert.True(t, Assessment{Score: 1, HasKeyword: true}.ShouldAlert(3))
	assert.False(t, Assessment{Score: 2}.ShouldAlert(3))
}

func TestMonitorDeduplicatesSameContent(t *testing.T) {
	m := NewMonitor(3)
	turns := []chat.Turn{{Role: chat.RoleUser, Content: "sufro acoso todos los días", Emotion: label("miedo")}}

	_, alert := m.Evaluate("user-1", turns)
	require.NotNil(t, alert)
	assert.Equal(t, "acoso", alert.RiskType)
	require.NotNil(t, alert.Score)
	assert.Equal(t, 2, *alert.Score)

	_, again := m.Evaluate("user-1", turns)
	assert.Nil(t, again)

	_, other := m.Evaluate("user-1", []chat.Turn{{Role: chat.RoleUser, Content: "otra vez acoso"}})
	assert.NotNil(t, other)
}

func TestMonitorBelowThresholdNoAlert(t *testing.T) {
	m := NewMonitor(3)
	_, alert := m.Evaluate("user-1", []chat.Turn{{Role: chat.RoleUser, Content: "estoy triste", Emotion: label("tristeza")}})
	assert.Nil(t, alert)
}

func TestMonitorForgetsAfterWindow(t *testing.T) {
	m := NewMonitorWithWindow(3, 50*time.Millisecond, 100)
	turns := []chat.Turn{{Role: chat.RoleUser, Content: "sufro acoso en clase"}}

	_, alert := m.Evaluate("user-1", turns)
	require.NotNil(t, alert)
	_, again := m.Evaluate("user-1", turns)
	assert.Nil(t, again)

	time.Sleep(150 * time.Millisecond)
	_, later := m.Evaluate("user-1", turns)
	assert.NotNil(t, later)
}

func TestMonitorBoundsRememberedContent(t *testing.T) {
	m := NewMonitorWithWindow(3, time.Hour, 2)
	contents := []string{"acoso en el recreo", "acoso en el bus", "acoso en casa"}
	for _, content := range contents {
		_, alert := m.Evaluate("user-1", []chat.Turn{{Role: chat.RoleUser, Content: content}})
		require.NotNil(t, alert, content)
		time.Sleep(2 * time.Millisecond)
	}
	assert.LessOrEqual(t, m.Remembered(), 2)

	_, alert := m.Evaluate("user-1", []chat.Turn{{Role: chat.RoleUser, Content: contents[0]}})
	assert.NotNil(t, alert)
}
