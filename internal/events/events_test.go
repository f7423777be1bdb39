package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs []kafka.Message
	fail bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error { return nil }

func TestKafkaPublish(t *testing.T) {
	fk := &fakeKafkaWriter{}
	k := NewKafkaWith(fk)

	ev := IngestEvent{BatchID: "b-1", Total: 3, Inserted: 2, Duplicates: 1, At: time.Unix(0, 0).UTC()}
	require.NoError(t, k.Publish(context.Background(), ev))
	require.Len(t, fk.msgs, 1)
	require.Equal(t, "b-1", string(fk.msgs[0].Key))

	var got IngestEvent
	require.NoError(t, json.Unmarshal(fk.msgs[0].Value, &got))
	require.Equal(t, ev.BatchID, got.BatchID)
	require.Equal(t, 2, got.Inserted)
	require.Equal(t, 1, got.Duplicates)
	require.True(t, ev.At.Equal(got.At))
}

func TestKafkaPublishFail(t *testing.T) {
	k := NewKafkaWith(&fakeKafkaWriter{fail: true})
	require.Error(t, k.Publish(context.Background(), IngestEvent{BatchID: "b"}))
}

type recordingPublisher struct {
	got []IngestEvent
	err error
}

func (r *recordingPublisher) Publish(_ context.Context, ev IngestEvent) error {
	r.got = append(r.got, ev)
	return r.err
}

func TestMultiPublishesToAll(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("down")}
	ok := &recordingPublisher{}
	m := Multi{failing, nil, ok}

	err := m.Publish(context.Background(), IngestEvent{BatchID: "x"})
	require.EqualError(t, err, "down")
	require.Len(t, failing.got, 1)
	require.Len(t, ok.got, 1)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), IngestEvent{BatchID: "live", Inserted: 4}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got IngestEvent
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "live", got.BatchID)
	require.Equal(t, 4, got.Inserted)
}
