package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/tunegrab/api/internal/client"
	"github.com/tunegrab/api/internal/config"
	"github.com/tunegrab/api/internal/model"
)

// fakeTracker records every job-store write the pipeline makes.
type fakeTracker struct {
	mu       sync.Mutex
	progress []float64
	messages []string
	result   *model.GrabResult
	failMsg  string
}

func (f *fakeTracker) UpdateProgress(_ context.Context, _ string, progress float64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progress)
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeTracker) Complete(_ context.Context, _ string, result *model.GrabResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = result
	return nil
}

func (f *fakeTracker) Fail(_ context.Context, _ string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMsg = errMsg
	return nil
}

type storedObject struct {
	data     []byte
	metadata map[string]string
	modified time.Time
}

// fakeStorage is an in-memory StorageClient.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]storedObject
	deleted []string
	listErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]storedObject)}
}

func (f *fakeStorage) Upload(_ context.Context, key string, body io.Reader, _ string, metadata map[string]string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = storedObject{data: data, metadata: metadata, modified: time.Now()}
	return nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStorage) List(_ context.Context, prefix string) ([]client.StoredObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []client.StoredObject
	for key, obj := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, client.StoredObject{Key: key, LastModified: obj.modified})
		}
	}
	return out, nil
}

func (f *fakeStorage) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.example/signed/" + key, nil
}

func (f *fakeStorage) HeadBucket(_ context.Context) error { return nil }

// fakeFetcher writes a transcoded file into destDir and replays progress
// events.
type fakeFetcher struct {
	title    string
	events   []client.FetchProgress
	fetchErr error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, destDir string, onProgress func(client.FetchProgress)) (*client.FetchOutput, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	for _, ev := range f.events {
		onProgress(ev)
	}
	path := filepath.Join(destDir, f.title+".mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return nil, err
	}
	return &client.FetchOutput{Title: f.title, Path: path}, nil
}

// strictTracker rejects writes made with a dead context, the way the Redis
// client does.
type strictTracker struct {
	fakeTracker
}

func (f *strictTracker) UpdateProgress(ctx context.Context, jobID string, progress float64, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.fakeTracker.UpdateProgress(ctx, jobID, progress, message)
}

func (f *strictTracker) Complete(ctx context.Context, jobID string, result *model.GrabResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.fakeTracker.Complete(ctx, jobID, result)
}

func (f *strictTracker) Fail(ctx context.Context, jobID string, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.fakeTracker.Fail(ctx, jobID, errMsg)
}

// cancelingFetcher simulates the queue's hard timeout firing mid-download.
type cancelingFetcher struct {
	cancel context.CancelFunc
}

func (f *cancelingFetcher) Fetch(ctx context.Context, _, _ string, _ func(client.FetchProgress)) (*client.FetchOutput, error) {
	f.cancel()
	return nil, ctx.Err()
}

func testGrabConfig(t *testing.T) config.GrabConfig {
	t.Helper()
	return config.GrabConfig{
		AudioFormat:  "mp3",
		AudioQuality: "192K",
		TempDir:      t.TempDir(),
		JobTimeout:   10 * time.Minute,
		LinkTTL:      15 * time.Minute,
		ArtifactTTL:  15 * time.Minute,
	}
}

func grabTask(t *testing.T, jobID, url, identity string) *asynq.Task {
	t.Helper()
	payload := fmt.Sprintf(`{"jobId":%q,"payload":{"url":%q,"identity":%q}}`, jobID, url, identity)
	return asynq.NewTask("grab:process", []byte(payload))
}

func TestGrabWorkerSuccess(t *testing.T) {
	tracker := &fakeTracker{}
	storage := newFakeStorage()
	fetcher := &fakeFetcher{
		title: "Song Name",
		events: []client.FetchProgress{
			{DownloadedBytes: 500, TotalBytes: 1000},
			{DownloadedBytes: 1000, TotalBytes: 1000},
		},
	}
	cfg := testGrabConfig(t)
	w := NewGrabWorker(tracker, storage, fetcher, cfg, zap.NewNop())

	task := grabTask(t, "J1", "https://video.example/watch?v=abc", "user-a")
	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	if tracker.result == nil {
		t.Fatal("expected job to complete with a result")
	}
	if tracker.result.Title != "Song Name" {
		t.Errorf("expected title 'Song Name', got %q", tracker.result.Title)
	}
	wantURL := "https://storage.example/signed/user-a/Song Name.mp3"
	if tracker.result.DownloadURL != wantURL {
		t.Errorf("expected download URL %q, got %q", wantURL, tracker.result.DownloadURL)
	}

	// Pipeline milestones in order: start, extracting snap, upload.
	if len(tracker.progress) < 3 {
		t.Fatalf("expected at least 3 progress updates, got %d", len(tracker.progress))
	}
	if tracker.progress[0] != 0.1 {
		t.Errorf("expected first progress 0.1, got %v", tracker.progress[0])
	}
	if tracker.progress[1] != 0.2 {
		t.Errorf("expected extracting snap 0.2, got %v", tracker.progress[1])
	}
	last := tracker.progress[len(tracker.progress)-1]
	if last != 0.7 {
		t.Errorf("expected final pipeline update 0.7, got %v", last)
	}
	for _, p := range tracker.progress {
		if p < 0 || p > 1 {
			t.Errorf("progress %v outside [0,1]", p)
		}
	}

	obj, ok := storage.objects["user-a/Song Name.mp3"]
	if !ok {
		t.Fatal("expected artifact under identity-namespaced key")
	}
	expiry, err := time.Parse(time.RFC3339, obj.metadata[client.ExpiryMetadataKey])
	if err != nil {
		t.Fatalf("expiry metadata not RFC3339: %v", err)
	}
	if d := time.Until(expiry); d < 14*time.Minute || d > 16*time.Minute {
		t.Errorf("expected expiry about 15 minutes out, got %v", d)
	}

	// Local temp directory is gone after the happy path.
	if _, err := os.Stat(filepath.Join(cfg.TempDir, "grab_user-a")); !os.IsNotExist(err) {
		t.Errorf("expected temp directory removed, stat err = %v", err)
	}
}

func TestGrabWorkerOverwritesCurrentArtifact(t *testing.T) {
	tracker := &fakeTracker{}
	storage := newFakeStorage()
	storage.objects["user-a/Old Song.mp3"] = storedObject{modified: time.Now().Add(-time.Minute)}
	storage.objects["user-b/Other Song.mp3"] = storedObject{modified: time.Now().Add(-time.Minute)}

	fetcher := &fakeFetcher{title: "New Song"}
	w := NewGrabWorker(tracker, storage, fetcher, testGrabConfig(t), zap.NewNop())

	task := grabTask(t, "J2", "https://video.example/watch?v=def", "user-a")
	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	if _, ok := storage.objects["user-a/Old Song.mp3"]; ok {
		t.Error("expected previous artifact for the identity to be purged")
	}
	if _, ok := storage.objects["user-a/New Song.mp3"]; !ok {
		t.Error("expected new artifact to be written")
	}
	if _, ok := storage.objects["user-b/Other Song.mp3"]; !ok {
		t.Error("another identity's artifact must not be touched")
	}
}

func TestGrabWorkerFetchFailure(t *testing.T) {
	tracker := &fakeTracker{}
	storage := newFakeStorage()
	fetcher := &fakeFetcher{fetchErr: errors.New("video unavailable")}
	w := NewGrabWorker(tracker, storage, fetcher, testGrabConfig(t), zap.NewNop())

	task := grabTask(t, "J3", "https://video.example/watch?v=gone", "user-a")
	err := w.ProcessTask(context.Background(), task)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("pipeline failures are terminal, expected SkipRetry, got %v", err)
	}
	if tracker.failMsg == "" {
		t.Error("expected job to be marked failed")
	}
	if !bytes.Contains([]byte(tracker.failMsg), []byte("video unavailable")) {
		t.Errorf("expected failure message to carry the cause, got %q", tracker.failMsg)
	}
	if tracker.result != nil {
		t.Error("failed job must not have a result")
	}
}

func TestGrabWorkerTimedOutJobStillMarkedFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := &strictTracker{}
	fetcher := &cancelingFetcher{cancel: cancel}
	w := NewGrabWorker(tracker, newFakeStorage(), fetcher, testGrabConfig(t), zap.NewNop())

	task := grabTask(t, "J5", "https://video.example/watch?v=slow", "user-a")
	err := w.ProcessTask(ctx, task)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("timed-out jobs are terminal, expected SkipRetry, got %v", err)
	}

	// The failed record must land even though the task context is dead,
	// otherwise pollers would see status=running forever.
	if tracker.failMsg == "" {
		t.Fatal("expected job to be marked failed after the task context was canceled")
	}
	if tracker.result != nil {
		t.Error("timed-out job must not have a result")
	}
}

func TestGrabWorkerListFailureDoesNotFailJob(t *testing.T) {
	tracker := &fakeTracker{}
	storage := newFakeStorage()
	storage.listErr = errors.New("list denied")
	fetcher := &fakeFetcher{title: "Resilient"}
	w := NewGrabWorker(tracker, storage, fetcher, testGrabConfig(t), zap.NewNop())

	task := grabTask(t, "J4", "https://video.example/watch?v=ok", "user-a")
	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("cleanup failure must not fail the job: %v", err)
	}
	if tracker.result == nil {
		t.Fatal("expected job to complete despite cleanup failure")
	}
}

func TestGrabWorkerBadPayload(t *testing.T) {
	w := NewGrabWorker(&fakeTracker{}, newFakeStorage(), &fakeFetcher{}, testGrabConfig(t), zap.NewNop())
	err := w.ProcessTask(context.Background(), asynq.NewTask("grab:process", []byte("not json")))
	if err == nil {
		t.Fatal("expected an error for malformed payload")
	}
}

func TestDownloadProgress(t *testing.T) {
	tests := []struct {
		downloaded, total int64
		want              float64
	}{
		{0, 0, 0.1},      // unknown total stays at the floor
		{0, 1000, 0.1},   // nothing downloaded
		{500, 1000, 0.35}, // midway maps to the middle of [0.1,0.6]
		{1000, 1000, 0.6},
		{2000, 1000, 0.6}, // over-reporting is capped
	}
	for _, tt := range tests {
		got := downloadProgress(tt.downloaded, tt.total)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("downloadProgress(%d, %d) = %v, want %v", tt.downloaded, tt.total, got, tt.want)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	if got := contentTypeFor("mp3"); got != "audio/mpeg" {
		t.Errorf("contentTypeFor(mp3) = %q", got)
	}
	if got := contentTypeFor("ogg"); got != "audio/ogg" {
		t.Errorf("contentTypeFor(ogg) = %q", got)
	}
}
