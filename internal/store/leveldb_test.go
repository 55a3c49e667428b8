package store

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func makeResource(url, body string) *Resource {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain")
	return &Resource{
		URL:        url,
		Body:       []byte(body),
		StatusCode: 200,
		StatusText: "200 OK",
		Header:     h,
		StoredAt:   1700000000,
	}
}

func openTestLevelDB(t *testing.T) *LevelDBStore {
	t.Helper()
	s, err := OpenLevelDB(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("OpenLevelDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLevelDBPutGet(t *testing.T) {
	s := openTestLevelDB(t)
	ctx := context.Background()

	res := makeResource("/index.html", "<html>")
	if err := s.Put(ctx, res); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "/index.html")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", got.StatusCode)
	}
	if got.StatusText != "200 OK" {
		t.Errorf("StatusText = %q, want %q", got.StatusText, "200 OK")
	}
	if string(got.Body) != "<html>" {
		t.Errorf("Body = %q, want %q", got.Body, "<html>")
	}
	if got.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("Header[Content-Type] = %q", got.Header.Get("Content-Type"))
	}
}

func TestLevelDBGetMissing(t *testing.T) {
	s := openTestLevelDB(t)

	_, err := s.Get(context.Background(), "/nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
	}
}

func TestLevelDBPutOverwrites(t *testing.T) {
	s := openTestLevelDB(t)
	ctx := context.Background()

	if err := s.Put(ctx, makeResource("/a", "old")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, makeResource("/a", "new")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Body) != "new" {
		t.Errorf("Body = %q, want %q", got.Body, "new")
	}
}

func TestLevelDBVersionRecord(t *testing.T) {
	s := openTestLevelDB(t)
	ctx := context.Background()

	_, err := s.GetVersion(ctx)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetVersion before any put: err = %v, want ErrNotFound", err)
	}

	if err := s.PutVersion(ctx, "1.0.0"); err != nil {
		t.Fatalf("PutVersion: %v", err)
	}
	rec, err := s.GetVersion(ctx)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if rec.Version != "1.0.0" {
		t.Errorf("Version = %q, want %q", rec.Version, "1.0.0")
	}
	if rec.CheckedAt == 0 {
		t.Error("CheckedAt not set")
	}

	if err := s.PutVersion(ctx, "1.0.1"); err != nil {
		t.Fatalf("PutVersion overwrite: %v", err)
	}
	rec, err = s.GetVersion(ctx)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if rec.Version != "1.0.1" {
		t.Errorf("Version after overwrite = %q, want %q", rec.Version, "1.0.1")
	}
}

func TestLevelDBSurvivesReopen(t *testing.T) {
	dir := t.TempDir() + "/db"
	ctx := context.Background()

	s, err := OpenLevelDB(dir)
	if err != nil {
		t.Fatalf("OpenLevelDB: %v", err)
	}
	if err := s.Put(ctx, makeResource("/persist", "still here")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := OpenLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, "/persist")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got.Body) != "still here" {
		t.Errorf("Body = %q, want %q", got.Body, "still here")
	}
}
