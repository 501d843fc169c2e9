package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"simctl/internal/domain"
)

func TestBroadcastRacingUnsubscribe(t *testing.T) {
	for round := 0; round < 50; round++ {
		h := NewMonitorHub()
		subs := make([]chan MonitorEvent, 200)
		for i := range subs {
			subs[i] = h.Subscribe()
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				h.OnProgress(1, 2)
			}
		}()
		go func() {
			defer wg.Done()
			for _, ch := range subs {
				h.Unsubscribe(ch)
			}
		}()
		wg.Wait()
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewMonitorHub()
	ch := h.Subscribe()
	h.OnProgress(3, 4)
	h.Unsubscribe(ch)
	h.Unsubscribe(ch)
	ev, ok := <-ch
	if !ok || ev.Current != 3 || ev.Total != 4 {
		t.Fatalf("buffered event lost: %+v ok=%v", ev, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	h.OnProgress(4, 4)
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, sc *bufio.Scanner) sseEvent {
	t.Helper()
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.name != "":
			return ev
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return ev
}

func TestMonitorEventStream(t *testing.T) {
	env := newAPIEnv(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", env.srv.URL+"/api/v1/monitor/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
	sc := bufio.NewScanner(resp.Body)

	first := readSSE(t, sc)
	if first.name != "status" {
		t.Fatalf("first event should be the status snapshot, got %+v", first)
	}
	if st := decode[domain.Status](t, []byte(first.data)); st.IsRunning {
		t.Fatalf("nothing should be running yet: %s", first.data)
	}

	if resp, body := env.do(t, "POST", "/api/v1/session/start", `{"url":"https://example.com","iterations":2}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start: %d %s", resp.StatusCode, body)
	}
	for {
		ev := readSSE(t, sc)
		if ev.name != EventProgress {
			continue
		}
		var me MonitorEvent
		if err := json.Unmarshal([]byte(ev.data), &me); err != nil {
			t.Fatalf("bad progress payload %q: %v", ev.data, err)
		}
		if me.Current != 1 || me.Total != 2 {
			t.Fatalf("progress: %+v", me)
		}
		break
	}
	cancel()
	waitUntil(t, "stream subscriber removal", func() bool { return env.monitor.Subscribers() == 0 })
}
