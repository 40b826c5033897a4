package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingTrigger struct{ n int }

func (c *countingTrigger) TriggerNow() { c.n++ }

func TestHandleData_TriggersOncePerHistoryID(t *testing.T) {
	trigger := &countingTrigger{}
	s := newService("gmail-updates", trigger, nil)

	assert.True(t, s.handleData([]byte(`{"emailAddress":"me@example.com","historyId":10}`)))
	assert.False(t, s.handleData([]byte(`{"emailAddress":"me@example.com","historyId":10}`)))
	assert.False(t, s.handleData([]byte(`{"emailAddress":"me@example.com","historyId":9}`)))
	assert.True(t, s.handleData([]byte(`{"emailAddress":"me@example.com","historyId":11}`)))
	assert.True(t, s.handleData([]byte(`{"emailAddress":"other@example.com","historyId":1}`)))
	assert.False(t, s.handleData([]byte(`not json`)))

	assert.Equal(t, 3, trigger.n)
	assert.Equal(t, "gmail-updates-sub", s.subName)
}

func TestTopicPath_FullyQualified(t *testing.T) {
	s := newService("projects/p/topics/gmail-updates", &countingTrigger{}, nil)
	assert.Equal(t, "projects/p/topics/gmail-updates", s.TopicPath())
}
