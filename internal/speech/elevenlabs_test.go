package speech

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestElevenLabs_NoKey(t *testing.T) {
	e := NewElevenLabsSynth("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, errCh := e.StreamPCM48k(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error when api key missing")
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
}

func TestElevenLabs_StreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "key" {
			t.Errorf("unexpected api key header %q", got)
		}
		w.WriteHeader(200)
		_, _ = w.Write([]byte{1, 2, 3, 4})
	}))
	defer srv.Close()

	e := NewElevenLabsSynth("key", "voice")
	e.BaseURL = srv.URL
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pcmCh, errCh := e.StreamPCM48k(ctx, "hello")

	var total int
	for pcmCh != nil || errCh != nil {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				pcmCh = nil
				continue
			}
			total += len(b)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				t.Fatalf("unexpected stream error: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout draining stream")
		}
	}
	if total != 4 {
		t.Fatalf("expected 4 audio bytes, got %d", total)
	}
}

func TestElevenLabs_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(402)
		_, _ = w.Write([]byte("quota"))
	}))
	defer srv.Close()

	e := NewElevenLabsSynth("key", "voice")
	e.BaseURL = srv.URL
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, errCh := e.StreamPCM48k(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error on non-2xx")
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for error")
	}
}

func TestDeepgram_StreamPCM48k_NoKey(t *testing.T) {
	d := NewDeepgramSynth("", "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := d.StreamPCM48k(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error when api key missing")
		}
	case <-pcmCh:
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
}
