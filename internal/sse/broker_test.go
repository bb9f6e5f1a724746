package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func drain(ch <-chan []byte) []string {
	var out []string
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func count(msgs []string, event string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, "event: "+event+"\n") {
			n++
		}
	}
	return n
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ch, unsubscribe := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	unsubscribe()
	unsubscribe()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsubscribe")
	}
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
}

func TestPublishBuild_ReloadThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	clock := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	b.now = func() time.Time { return clock }

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.PublishBuild(BuildEvent{Written: []string{"a.html"}, Pages: 1})
	clock = clock.Add(100 * time.Millisecond)
	b.PublishBuild(BuildEvent{Written: []string{"b.html"}, Pages: 1})
	clock = clock.Add(time.Second)
	b.PublishBuild(BuildEvent{Written: []string{"c.html"}, Pages: 1})

	msgs := drain(ch)
	if got := count(msgs, EventRebuilt); got != 3 {
		t.Errorf("rebuilt events = %d, want 3", got)
	}
	if got := count(msgs, EventReload); got != 2 {
		t.Errorf("reload events = %d, want 2", got)
	}
	if !strings.Contains(msgs[0], `"written":["a.html"]`) {
		t.Errorf("first message = %q", msgs[0])
	}
}

func TestPublishBuild_FailureSkipsReload(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.PublishBuild(BuildEvent{Error: `unknown parent template "missing.html"`})

	msgs := drain(ch)
	if len(msgs) != 1 {
		t.Fatalf("messages = %q, want exactly one", msgs)
	}
	if count(msgs, EventFailed) != 1 || !strings.Contains(msgs[0], "missing.html") {
		t.Errorf("unexpected message %q", msgs[0])
	}
}

func TestSubscribe_ReplaysLastOutcome(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	b.PublishBuild(BuildEvent{Pages: 2})
	b.PublishBuild(BuildEvent{Error: "boom"})

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()
	msgs := drain(ch)
	if len(msgs) != 1 || count(msgs, EventFailed) != 1 {
		t.Errorf("replayed = %q, want the failed build only", msgs)
	}
}

func TestPublishDoesNotBlockOnSlowClient(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	_, unsubscribe := b.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.PublishBuild(BuildEvent{Pages: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full client buffer")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/__kiln/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.PublishBuild(BuildEvent{Pages: 3})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: site.rebuilt") || !strings.Contains(body, "event: reload") {
		t.Errorf("handler output = %q", body)
	}
	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch, unsubscribe := b.Subscribe()

	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected subscriber channel to be closed")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	unsubscribe()
	b.PublishBuild(BuildEvent{})
	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribe after close returned an open channel")
	}
}
