package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobCompleted(context.Background(), "job-1", 12, time.Minute); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type captured struct {
	title    string
	message  string
	tags     string
	priority string
}

func newCaptureServer(t *testing.T, sink *[]captured) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		*sink = append(*sink, captured{
			title:    r.Header.Get("Title"),
			message:  string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		w.WriteHeader(http.StatusOK)
	}))
}

func TestNtfyServiceFormatsMessages(t *testing.T) {
	var got []captured
	server := newCaptureServer(t, &got)
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completion = true
	cfg.Notifications.Errors = true
	svc := notifications.NewService(&cfg)

	ctx := context.Background()
	if err := svc.NotifyJobCompleted(ctx, "0123456789abcdef", 24, 90*time.Second); err != nil {
		t.Fatalf("NotifyJobCompleted failed: %v", err)
	}
	if err := svc.NotifyJobFailed(ctx, "0123456789abcdef", "analyze", "model overloaded"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}
	if err := svc.NotifyError(ctx, errors.New("disk full"), "content store"); err != nil {
		t.Fatalf("NotifyError failed: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(got))
	}

	completed := got[0]
	if completed.title != "Loom - Complete" || completed.priority != "high" {
		t.Fatalf("unexpected completion notification: %#v", completed)
	}
	if !strings.Contains(completed.message, "01234567") || !strings.Contains(completed.message, "24 pages") {
		t.Fatalf("unexpected completion message: %q", completed.message)
	}

	failed := got[1]
	if failed.title != "Loom - Job Failed" || failed.tags != "loom,job,failed" {
		t.Fatalf("unexpected failure notification: %#v", failed)
	}
	if !strings.Contains(failed.message, "analyze") || !strings.Contains(failed.message, "model overloaded") {
		t.Fatalf("unexpected failure message: %q", failed.message)
	}

	errNote := got[2]
	if !strings.Contains(errNote.message, "content store") || !strings.Contains(errNote.message, "disk full") {
		t.Fatalf("unexpected error message: %q", errNote.message)
	}
}

func TestNtfyServiceRespectsToggles(t *testing.T) {
	var got []captured
	server := newCaptureServer(t, &got)
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completion = false
	cfg.Notifications.Errors = false
	svc := notifications.NewService(&cfg)

	ctx := context.Background()
	if err := svc.NotifyJobCompleted(ctx, "job-1", 1, time.Second); err != nil {
		t.Fatalf("NotifyJobCompleted failed: %v", err)
	}
	if err := svc.NotifyJobFailed(ctx, "job-1", "render", "boom"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected suppressed notifications, got %d", len(got))
	}

	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected test notification to bypass toggles, got %d", len(got))
	}
}

func TestNtfyServiceSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Errors = true
	svc := notifications.NewService(&cfg)

	err := svc.NotifyJobFailed(context.Background(), "job-1", "layout", "boom")
	if err == nil {
		t.Fatal("expected error status to propagate")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status code in error, got %v", err)
	}
}
