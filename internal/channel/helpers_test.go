package channel

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"omnigate/internal/domain"
	"omnigate/internal/lifecycle"
	"omnigate/internal/stream"
)

type stubTimer struct {
	f       func()
	stopped bool
}

func (t *stubTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type stubScheduler struct{ timers []*stubTimer }

func (s *stubScheduler) AfterFunc(_ time.Duration, f func()) lifecycle.Timer {
	t := &stubTimer{f: f}
	s.timers = append(s.timers, t)
	return t
}

func TestRegistry(t *testing.T) {
	r := NewRegistry[int]()
	v, created := r.GetOrCreate("b", func() int { return 2 })
	if !created || v != 2 {
		t.Fatal("expected creation")
	}
	if v, created = r.GetOrCreate("b", func() int { return 9 }); created || v != 2 {
		t.Error("existing record replaced")
	}
	r.GetOrCreate("a", func() int { return 1 })
	if ids := r.IDs(); len(ids) != 2 || ids[0] != "a" {
		t.Errorf("ids = %v", ids)
	}
	if _, ok := r.Delete("a"); !ok || r.Len() != 1 {
		t.Error("delete failed")
	}
}

func TestTyping_AutoStop(t *testing.T) {
	sched := &stubScheduler{}
	ty := NewTyping(sched, time.Second)

	stops := 0
	ty.Start("chat", func() { stops++ })
	ty.Start("chat", func() { stops++ })
	if ty.Active() != 1 || !sched.timers[0].stopped {
		t.Fatal("restart should replace the pending timer")
	}

	sched.timers[0].f() // stale
	if stops != 0 {
		t.Error("replaced timer ran its stop callback")
	}
	sched.timers[1].f()
	if stops != 1 || ty.Active() != 0 {
		t.Errorf("stops=%d active=%d", stops, ty.Active())
	}
}

func TestTyping_StopAllCancels(t *testing.T) {
	sched := &stubScheduler{}
	ty := NewTyping(sched, time.Second)
	ran := false
	ty.Start("a", func() { ran = true })
	ty.Start("b", func() { ran = true })

	if !ty.Stop("a") || ty.Stop("a") {
		t.Error("Stop should report the active timer once")
	}
	ty.StopAll()
	for _, tm := range sched.timers {
		tm.f()
	}
	if ran || ty.Active() != 0 {
		t.Error("cancelled timers still fired")
	}
}

type nopEditor struct{ sends int }

func (e *nopEditor) Send(context.Context, stream.Frame) (string, error) {
	e.sends++
	return "id", nil
}
func (e *nopEditor) Edit(context.Context, string, stream.Frame) error { return nil }

func TestStreams_TrackAndAbort(t *testing.T) {
	s := NewStreams()
	ed := &nopEditor{}
	a := s.New(ed, stream.Options{Logger: testLogger()})
	b := s.New(ed, stream.Options{Logger: testLogger()})
	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}

	a.Finish(context.Background(), "done")
	if s.Len() != 1 {
		t.Errorf("finished stream still tracked")
	}

	s.AbortAll()
	b.Append("late")
	if s.Len() != 0 || ed.sends != 1 {
		t.Errorf("len=%d sends=%d", s.Len(), ed.sends)
	}
}

func TestRenderMentions(t *testing.T) {
	token := func(m domain.Mention) string {
		switch m.Type {
		case domain.MentionEveryone:
			return "@everyone"
		case domain.MentionRole:
			return "<@&" + m.ID + ">"
		}
		return "<@" + m.ID + ">"
	}
	tests := []struct {
		text     string
		mentions []domain.Mention
		want     string
	}{
		{"hi @42", []domain.Mention{{ID: "42"}}, "hi <@42>"},
		{"hi", []domain.Mention{{ID: "42"}}, "<@42> hi"},
		{"ping @7 and @7", []domain.Mention{{ID: "7", Type: domain.MentionRole}}, "ping <@&7> and <@&7>"},
		{"all", []domain.Mention{{Type: domain.MentionEveryone}}, "@everyone all"},
		{"", []domain.Mention{{ID: "1"}}, "<@1>"},
	}
	for _, tt := range tests {
		if got := RenderMentions(tt.text, tt.mentions, token); got != tt.want {
			t.Errorf("RenderMentions(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestAllowed(t *testing.T) {
	if !Allowed(nil, "x") {
		t.Error("empty allow list should allow all")
	}
	if !Allowed([]string{"1", " 2 "}, "", "2") {
		t.Error("trimmed id should match")
	}
	if Allowed([]string{"1"}, "3") {
		t.Error("unknown id allowed")
	}
}

func TestMediaFetcher_Base64First(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	msg := domain.OutgoingMessage{
		To:       "c",
		Content:  domain.OutgoingContent{Type: domain.ContentImage, MediaURL: "http://invalid.example/never"},
		Metadata: map[string]any{domain.MetaMediaBase64: base64.StdEncoding.EncodeToString(png)},
	}
	m, err := MediaFetcher{}.Resolve(context.Background(), msg, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(m.Data) != string(png) || m.MimeType != "image/png" {
		t.Errorf("media = %q %s", m.Data, m.MimeType)
	}
	if m.FileName != "image.png" {
		t.Errorf("file name = %q", m.FileName)
	}
}

func TestMediaFetcher_DataURL(t *testing.T) {
	msg := domain.OutgoingMessage{
		Content:  domain.OutgoingContent{Type: domain.ContentDocument, FileName: "a.txt"},
		Metadata: map[string]any{domain.MetaMediaBase64: "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("hello"))},
	}
	m, err := MediaFetcher{}.Resolve(context.Background(), msg, 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.MimeType != "text/plain" || m.FileName != "a.txt" {
		t.Errorf("media = %+v", m)
	}
}

func TestMediaFetcher_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/ogg; codecs=opus")
		w.Write([]byte("OggS-audio-bytes"))
	}))
	defer srv.Close()

	msg := domain.OutgoingMessage{Content: domain.OutgoingContent{Type: domain.ContentAudio, MediaURL: srv.URL + "/voice.ogg?x=1"}}
	m, err := MediaFetcher{Client: srv.Client()}.Resolve(context.Background(), msg, 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.MimeType != "audio/ogg" || m.FileName != "voice.ogg" {
		t.Errorf("media = %s %s", m.MimeType, m.FileName)
	}

	_, err = MediaFetcher{Client: srv.Client()}.Resolve(context.Background(), msg, 4)
	if err == nil {
		t.Error("expected size limit error")
	}

	msg.Content.MediaURL = srv.URL + "/missing"
	_, err = MediaFetcher{Client: srv.Client()}.Resolve(context.Background(), msg, 0)
	if domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMediaFetcher_NoSource(t *testing.T) {
	_, err := MediaFetcher{}.Resolve(context.Background(), domain.OutgoingMessage{Content: domain.OutgoingContent{Type: domain.ContentVideo}}, 0)
	var ce *domain.ChannelError
	if !errors.As(err, &ce) || ce.Reason != domain.ReasonMissingField {
		t.Errorf("got %v", err)
	}
}
