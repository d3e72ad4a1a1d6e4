package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCurrentTimeDefaultsToUTC(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	tl := CurrentTime(func() time.Time { return fixed })

	res, err := tl.Call(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if want := fixed.Format(time.RFC1123); res.Output != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
}

func TestCurrentTimeTimezone(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	tl := CurrentTime(func() time.Time { return fixed })

	res, err := tl.Call(context.Background(), map[string]any{"timezone": "Asia/Taipei"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !strings.Contains(res.Output, "17:00") {
		t.Errorf("Output = %q, want Taipei local time (UTC+8)", res.Output)
	}
}

func TestCurrentTimeBadTimezone(t *testing.T) {
	tl := CurrentTime(nil)
	if _, err := tl.Call(context.Background(), map[string]any{"timezone": "Nowhere/Void"}); err == nil {
		t.Fatal("Call() with invalid timezone should fail")
	}
}

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Release Notes</title></head>
<body><nav>skip this</nav><article><p>Version 2 ships today.</p>
<p>It is much faster.</p></article></body></html>`)
	}))
	defer srv.Close()

	tl := FetchPage(srv.Client())
	res, err := tl.Call(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !strings.Contains(res.Output, "Release Notes") {
		t.Errorf("Output = %q, want the page title", res.Output)
	}
	if !strings.Contains(res.Output, "Version 2 ships today.") {
		t.Errorf("Output = %q, want the article text", res.Output)
	}
}

func TestFetchPageRejectsScheme(t *testing.T) {
	tl := FetchPage(nil)
	if _, err := tl.Call(context.Background(), map[string]any{"url": "file:///etc/passwd"}); err == nil {
		t.Fatal("Call() with non-http scheme should fail")
	}
}

func TestFetchPageStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tl := FetchPage(srv.Client())
	_, err := tl.Call(context.Background(), map[string]any{"url": srv.URL})
	if err == nil {
		t.Fatal("Call() against a 404 should fail")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %v, should carry the status code", err)
	}
}

type memStore struct {
	data map[string]string
}

func (m *memStore) key(threadID, key string) string { return threadID + "/" + key }

func (m *memStore) GetMeta(ctx context.Context, threadID, key string) (string, bool, error) {
	v, ok := m.data[m.key(threadID, key)]
	return v, ok, nil
}

func (m *memStore) SetMeta(ctx context.Context, threadID, key, value string) error {
	if m.data == nil {
		m.data = map[string]string{}
	}
	m.data[m.key(threadID, key)] = value
	return nil
}

func TestRememberAndRecall(t *testing.T) {
	store := &memStore{}
	ctx := context.Background()

	remember := Remember(store, "thread-1")
	if _, err := remember.Call(ctx, map[string]any{"key": "user_name", "value": "Alex"}); err != nil {
		t.Fatalf("remember: %v", err)
	}

	recall := Recall(store, "thread-1")
	res, err := recall.Call(ctx, map[string]any{"key": "user_name"})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if res.Output != "Alex" {
		t.Errorf("recall Output = %q, want %q", res.Output, "Alex")
	}

	// Facts are scoped per thread.
	other := Recall(store, "thread-2")
	res, err = other.Call(ctx, map[string]any{"key": "user_name"})
	if err != nil {
		t.Fatalf("recall other thread: %v", err)
	}
	if !strings.Contains(res.Output, "nothing stored") {
		t.Errorf("recall from other thread Output = %q, want a miss", res.Output)
	}
}

func TestRememberEmptyKey(t *testing.T) {
	remember := Remember(&memStore{}, "thread-1")
	if _, err := remember.Call(context.Background(), map[string]any{"key": "", "value": "x"}); err == nil {
		t.Fatal("remember with empty key should fail")
	}
}
