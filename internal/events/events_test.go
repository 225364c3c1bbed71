package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeLog struct {
	kinds    []string
	payloads [][]byte
	err      error
}

func (f *fakeLog) AppendEvent(_ context.Context, kind, _ string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.kinds = append(f.kinds, kind)
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
	closed        bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

var at = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestLogPublisher(t *testing.T) {
	store := &fakeLog{}
	err := NewLog(store).Publish(context.Background(), Event{
		Kind: SubmissionSubmitted, Subject: "sub-1", At: at, Data: map[string]any{"score": 1.5},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(store.kinds) != 1 || store.kinds[0] != SubmissionSubmitted {
		t.Fatalf("kinds = %v", store.kinds)
	}
	var decoded Event
	if err := json.Unmarshal(store.payloads[0], &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Subject != "sub-1" || !decoded.At.Equal(at) {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestAMQPPublisherRoutesByKind(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQP(ch, "proctor.events")
	if err := p.Publish(context.Background(), Event{Kind: GamePlayed, Subject: "capitals", At: at}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ch.exchange != "proctor.events" || ch.key != GamePlayed {
		t.Errorf("published to %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp.Persistent || ch.msg.ContentType != "application/json" {
		t.Errorf("msg = %+v", ch.msg)
	}
	if err := p.Close(); err != nil || !ch.closed {
		t.Errorf("Close = %v, closed = %v", err, ch.closed)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &fakeLog{}
	boom := errors.New("boom")
	m := Multi{NewLog(&fakeLog{err: boom}), NewLog(ok), Nop{}}
	err := m.Publish(context.Background(), Event{Kind: SubmissionGraded, Subject: "s"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(ok.kinds) != 1 {
		t.Error("healthy publisher skipped after failure")
	}
}
