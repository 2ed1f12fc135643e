package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/lifecycle"
	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/alexey-tyurin/messaging-service/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScanner(msgs *fakeMessages, q *fakeQueue, machine *fakeMachine) *Scanner {
	return NewScanner(ScannerOpts{
		Messages:   msgs,
		Machine:    machine,
		Queue:      q,
		Interval:   time.Second,
		StaleAfter: 5 * time.Minute,
		BatchSize:  100,
	})
}

func TestScannerEnqueuesDueRetries(t *testing.T) {
	next := time.Now().Add(-time.Minute)
	due := model.Message{
		ID:            "01DUE",
		Channel:       model.ChannelEmail,
		Status:        model.StatusRetry,
		Attempts:      1,
		MaxRetries:    3,
		NextAttemptAt: &next,
	}
	msgs := newFakeMessages()
	msgs.dueRetries = []model.Message{due}
	q := newFakeQueue()
	machine := &fakeMachine{}
	s := testScanner(msgs, q, machine)

	require.NoError(t, s.enqueueDueRetries(context.Background()))

	entries := q.enqueued[queue.ForChannel(model.ChannelEmail)]
	require.Len(t, entries, 1)
	p, err := queue.DecodePayload(entries[0])
	require.NoError(t, err)
	assert.Equal(t, "01DUE", p.MessageID)
	assert.Equal(t, 1, p.Attempt)

	// next_attempt_at is cleared so the next tick skips this row
	require.Len(t, msgs.transitions, 1)
	upd := msgs.transitions[0]
	assert.Equal(t, "01DUE", upd.MessageID)
	assert.Equal(t, model.StatusRetry, upd.ExpectedStatus)
	assert.Equal(t, model.StatusRetry, upd.NewStatus)
	assert.True(t, upd.ClearNextAttempt)
}

func TestScannerNothingDue(t *testing.T) {
	msgs := newFakeMessages()
	q := newFakeQueue()
	machine := &fakeMachine{}
	s := testScanner(msgs, q, machine)

	require.NoError(t, s.enqueueDueRetries(context.Background()))
	assert.Empty(t, q.enqueued)
	assert.Empty(t, msgs.transitions)
}

func TestScannerRecoversStaleSending(t *testing.T) {
	stale := model.Message{
		ID:         "01STALE",
		Channel:    model.ChannelSMS,
		Status:     model.StatusSending,
		Attempts:   1,
		MaxRetries: 3,
	}
	msgs := newFakeMessages()
	msgs.stale = []model.Message{stale}
	q := newFakeQueue()
	machine := &fakeMachine{}
	s := testScanner(msgs, q, machine)

	before := time.Now()
	require.NoError(t, s.recoverStaleSending(context.Background()))

	require.Equal(t, []lifecycle.Transition{lifecycle.TransitionRetry}, machine.transitions())
	detail := machine.applied[0].detail
	assert.Equal(t, "stale_sending", detail.FailureKind)
	require.NotNil(t, detail.NextAttemptAt)
	assert.WithinDuration(t, before, *detail.NextAttemptAt, 5*time.Second, "stale recovery retries immediately")
}

func TestScannerStaleFlipRaceIsBenign(t *testing.T) {
	// a webhook settled the message between the scan and the flip; the
	// machine reports stale and the scanner moves on
	settled := model.Message{
		ID:      "01GONE",
		Channel: model.ChannelSMS,
		Status:  model.StatusDelivered,
	}
	msgs := newFakeMessages()
	msgs.stale = []model.Message{settled}
	q := newFakeQueue()
	machine := &fakeMachine{}
	s := testScanner(msgs, q, machine)

	require.NoError(t, s.recoverStaleSending(context.Background()))
	assert.Empty(t, machine.transitions())
}
