package model

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateGroup(t *testing.T) {
	cases := []struct {
		name  string
		group string
		valid bool
	}{
		{"simple", "orders", true},
		{"with-hyphen", "order-events", true},
		{"with-underscore", "order_events", true},
		{"empty", "", false},
		{"too-long", string(bytes.Repeat([]byte("a"), 51)), false},
		{"invalid-char", "orders/events", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateGroup(tc.group)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidGroup)
			}
		})
	}
}

func TestValidateContent(t *testing.T) {
	require.ErrorIs(t, ValidateContent(nil), ErrEmptyContent)
	require.NoError(t, ValidateContent([]byte("hello")))
	require.ErrorIs(t, ValidateContent(bytes.Repeat([]byte("a"), MaxContentBytes+1)), ErrContentTooLarge)
	require.NoError(t, ValidateContent(bytes.Repeat([]byte("a"), MaxContentBytes)))
}

func TestMessageReservable(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	t.Run("consumed is never reservable", func(t *testing.T) {
		m := &Message{Consumed: true}
		assert.False(t, m.Reservable(now))
	})

	t.Run("active reservation blocks", func(t *testing.T) {
		m := &Message{ReservedUntil: &future}
		assert.False(t, m.Reservable(now))
	})

	t.Run("lapsed reservation is reservable", func(t *testing.T) {
		m := &Message{ReservedUntil: &past}
		assert.True(t, m.Reservable(now))
	})

	t.Run("future schedule blocks", func(t *testing.T) {
		m := &Message{ScheduledAt: &future}
		assert.False(t, m.Reservable(now))
	})

	t.Run("due schedule is reservable", func(t *testing.T) {
		m := &Message{ScheduledAt: &past}
		assert.True(t, m.Reservable(now))
	})

	t.Run("plain unreserved message is reservable", func(t *testing.T) {
		m := &Message{}
		assert.True(t, m.Reservable(now))
	})
}

func TestMessageCloneIsIndependent(t *testing.T) {
	until := time.Now()
	orig := &Message{
		ID:            "abc",
		Content:       []byte("payload"),
		ReservedUntil: &until,
	}
	clone := orig.Clone()
	require.NotSame(t, orig, clone)

	clone.Content[0] = 'X'
	assert.Equal(t, byte('p'), orig.Content[0], "mutating the clone's content must not affect the original")

	*clone.ReservedUntil = until.Add(time.Hour)
	assert.Equal(t, until, *orig.ReservedUntil, "mutating the clone's reservation must not affect the original")
}

func TestMessageCloneNil(t *testing.T) {
	var m *Message
	assert.Nil(t, m.Clone())
}
