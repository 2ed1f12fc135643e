package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/lifecycle"
	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/alexey-tyurin/messaging-service/internal/provider"
	"github.com/alexey-tyurin/messaging-service/internal/repository"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type scriptedProvider struct {
	name      string
	validSig  bool
	event     provider.InboundEvent
	normError error
}

func (s *scriptedProvider) Name() string { return s.name }
func (s *scriptedProvider) Send(context.Context, model.Message) provider.SendResult {
	return provider.SendResult{}
}
func (s *scriptedProvider) ValidateInbound(http.Header, []byte) bool { return s.validSig }
func (s *scriptedProvider) NormalizeInbound([]byte) (provider.InboundEvent, error) {
	return s.event, s.normError
}

type memoryDedup struct {
	seen map[string]bool
}

func newMemoryDedup() *memoryDedup { return &memoryDedup{seen: make(map[string]bool)} }

func (d *memoryDedup) FirstSeen(_ context.Context, providerName, eventID string) (bool, error) {
	key := providerName + ":" + eventID
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type fakeMachine struct {
	applied []lifecycle.Transition
}

func (f *fakeMachine) Apply(_ context.Context, m *model.Message, t lifecycle.Transition, _ lifecycle.Detail) (lifecycle.Outcome, error) {
	if !lifecycle.Allowed(m.Status, t) {
		return lifecycle.Stale, nil
	}
	f.applied = append(f.applied, t)
	m.Status = lifecycle.Target(t)
	return lifecycle.Applied, nil
}

type fakeMessages struct {
	byProviderMID map[string]*model.Message
}

func (f *fakeMessages) Insert(context.Context, *sqlx.Tx, model.Message) error { return nil }
func (f *fakeMessages) Get(context.Context, string) (*model.Message, error)  { return nil, nil }
func (f *fakeMessages) GetByProviderMessageID(_ context.Context, providerName, pmid string) (*model.Message, error) {
	return f.byProviderMID[providerName+":"+pmid], nil
}
func (f *fakeMessages) ApplyTransition(context.Context, *sqlx.Tx, repository.TransitionUpdate) (bool, error) {
	return true, nil
}
func (f *fakeMessages) SelectDueRetries(context.Context, time.Time, int) ([]model.Message, error) {
	return nil, nil
}
func (f *fakeMessages) SelectStaleSending(context.Context, time.Time, int) ([]model.Message, error) {
	return nil, nil
}

// ---- helpers ----

func receiptEvent(pmid, status string) provider.InboundEvent {
	return provider.InboundEvent{
		Kind:              provider.InboundStatus,
		EventID:           "evt-1",
		ProviderMessageID: pmid,
		Channel:           model.ChannelSMS,
		Status:            status,
	}
}

func testReconciler(p *scriptedProvider, msgs *fakeMessages, machine *fakeMachine, dedup DedupStore) *Reconciler {
	gw := provider.NewGateway()
	gw.Register(p, provider.NewMicroBreaker(5, time.Minute), model.ChannelSMS)
	return NewReconciler(nil, msgs, nil, nil, gw, machine, dedup)
}

func sentMessage(pmid string) *model.Message {
	id := pmid
	return &model.Message{
		ID:                "01MSG",
		Channel:           model.ChannelSMS,
		Direction:         model.DirectionOutbound,
		Status:            model.StatusSent,
		Provider:          "twilio",
		ProviderMessageID: &id,
	}
}

// ---- tests ----

func TestHandleDeliveryReceipt(t *testing.T) {
	m := sentMessage("SM1")
	p := &scriptedProvider{name: "twilio", validSig: true, event: receiptEvent("SM1", "delivered")}
	msgs := &fakeMessages{byProviderMID: map[string]*model.Message{"twilio:SM1": m}}
	machine := &fakeMachine{}
	rec := testReconciler(p, msgs, machine, newMemoryDedup())

	res, err := rec.Handle(context.Background(), "twilio", http.Header{}, []byte(`{}`))
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, "01MSG", res.MessageID)
	assert.Equal(t, []lifecycle.Transition{lifecycle.TransitionDeliver}, machine.applied)
	assert.Equal(t, model.StatusDelivered, m.Status)
}

func TestHandleFailureReceipt(t *testing.T) {
	m := sentMessage("SM1")
	m.Status = model.StatusSending
	p := &scriptedProvider{name: "twilio", validSig: true, event: receiptEvent("SM1", "failed")}
	msgs := &fakeMessages{byProviderMID: map[string]*model.Message{"twilio:SM1": m}}
	machine := &fakeMachine{}
	rec := testReconciler(p, msgs, machine, newMemoryDedup())

	res, err := rec.Handle(context.Background(), "twilio", http.Header{}, []byte(`{}`))
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, model.StatusFailed, m.Status)
}

func TestHandleDuplicateEvent(t *testing.T) {
	m := sentMessage("SM1")
	p := &scriptedProvider{name: "twilio", validSig: true, event: receiptEvent("SM1", "delivered")}
	msgs := &fakeMessages{byProviderMID: map[string]*model.Message{"twilio:SM1": m}}
	machine := &fakeMachine{}
	rec := testReconciler(p, msgs, machine, newMemoryDedup())

	_, err := rec.Handle(context.Background(), "twilio", http.Header{}, []byte(`{}`))
	require.NoError(t, err)

	res, err := rec.Handle(context.Background(), "twilio", http.Header{}, []byte(`{}`))
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.False(t, res.Applied)
	assert.Len(t, machine.applied, 1, "second delivery of the same event is a no-op")
}

func TestHandleStaleReceipt(t *testing.T) {
	// receipt for a message that already failed: acknowledged, not applied
	m := sentMessage("SM1")
	m.Status = model.StatusFailed
	p := &scriptedProvider{name: "twilio", validSig: true, event: receiptEvent("SM1", "delivered")}
	msgs := &fakeMessages{byProviderMID: map[string]*model.Message{"twilio:SM1": m}}
	machine := &fakeMachine{}
	rec := testReconciler(p, msgs, machine, newMemoryDedup())

	res, err := rec.Handle(context.Background(), "twilio", http.Header{}, []byte(`{}`))
	require.NoError(t, err)

	assert.False(t, res.Applied)
	assert.Empty(t, machine.applied)
	assert.Equal(t, model.StatusFailed, m.Status)
}

func TestHandleOrphanReceipt(t *testing.T) {
	p := &scriptedProvider{name: "twilio", validSig: true, event: receiptEvent("SM404", "delivered")}
	msgs := &fakeMessages{byProviderMID: map[string]*model.Message{}}
	machine := &fakeMachine{}
	rec := testReconciler(p, msgs, machine, newMemoryDedup())

	res, err := rec.Handle(context.Background(), "twilio", http.Header{}, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, res.Applied)
}

func TestHandleRejectsBadSignature(t *testing.T) {
	p := &scriptedProvider{name: "twilio", validSig: false}
	machine := &fakeMachine{}
	rec := testReconciler(p, &fakeMessages{}, machine, newMemoryDedup())

	_, err := rec.Handle(context.Background(), "twilio", http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrSignature)
	assert.Empty(t, machine.applied)
}

func TestHandleRejectsUnknownProvider(t *testing.T) {
	p := &scriptedProvider{name: "twilio", validSig: true}
	rec := testReconciler(p, &fakeMessages{}, &fakeMachine{}, newMemoryDedup())

	_, err := rec.Handle(context.Background(), "nexmo", http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestHandleRejectsBadPayload(t *testing.T) {
	p := &scriptedProvider{name: "twilio", validSig: true, normError: assert.AnError}
	rec := testReconciler(p, &fakeMessages{}, &fakeMachine{}, newMemoryDedup())

	_, err := rec.Handle(context.Background(), "twilio", http.Header{}, []byte(`junk`))
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestDuplicateKeyDetection(t *testing.T) {
	// an inbound create replayed past the dedup store (Redis outage, lapsed
	// TTL) hits the unique provider message id key; that insert error must
	// classify as a duplicate, not bubble out as a server failure
	dup := fmt.Errorf("insert message: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'twilio-SM1'"})
	assert.True(t, isDuplicateKey(dup))

	assert.False(t, isDuplicateKey(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}))
	assert.False(t, isDuplicateKey(errors.New("connection reset")))
	assert.False(t, isDuplicateKey(nil))
}

func TestHandleIgnoresUnknownReceiptStatus(t *testing.T) {
	m := sentMessage("SM1")
	p := &scriptedProvider{name: "twilio", validSig: true, event: receiptEvent("SM1", "queued_at_carrier")}
	msgs := &fakeMessages{byProviderMID: map[string]*model.Message{"twilio:SM1": m}}
	machine := &fakeMachine{}
	rec := testReconciler(p, msgs, machine, newMemoryDedup())

	res, err := rec.Handle(context.Background(), "twilio", http.Header{}, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Empty(t, machine.applied)
	assert.Equal(t, model.StatusSent, m.Status)
}
