package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDataModuleSetup(t *testing.T) {
	root := t.TempDir()
	if err := WriteSynthetic(root, 120, 30, 9); err != nil {
		t.Fatalf("WriteSynthetic: %v", err)
	}
	dm := NewDataModule(root, 16, Normalization{Mean: 0.1307, Std: 0.3081}, 42)
	dm.Split = [2]int{100, 20}

	if _, err := dm.TrainLoader(); err == nil {
		t.Fatal("expected error before setup")
	}
	if err := dm.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := dm.Setup(StageFit); err != nil {
		t.Fatalf("Setup fit: %v", err)
	}
	if err := dm.Setup(StageTest); err != nil {
		t.Fatalf("Setup test: %v", err)
	}

	train, _ := dm.TrainLoader()
	val, _ := dm.ValLoader()
	test, _ := dm.TestLoader()
	if train.Source.Len() != 100 || val.Source.Len() != 20 || test.Source.Len() != 30 {
		t.Fatalf("sizes %d/%d/%d", train.Source.Len(), val.Source.Len(), test.Source.Len())
	}
	if train.NumWorkers != 4 || val.NumWorkers != 4 || test.NumWorkers != 1 {
		t.Fatalf("workers %d/%d/%d", train.NumWorkers, val.NumWorkers, test.NumWorkers)
	}
}

func TestDataModuleRejectsBadSplit(t *testing.T) {
	root := t.TempDir()
	if err := WriteSynthetic(root, 50, 10, 1); err != nil {
		t.Fatalf("WriteSynthetic: %v", err)
	}
	dm := NewDataModule(root, 8, Normalization{Std: 1}, 1)
	if err := dm.Setup(StageFit); err == nil {
		t.Fatal("expected split error for 50 examples")
	}
}

func TestDownloaderFetchesMissingFiles(t *testing.T) {
	src := t.TempDir()
	if err := WriteSynthetic(src, 10, 5, 3); err != nil {
		t.Fatalf("WriteSynthetic: %v", err)
	}
	digests := map[string]string{}
	for _, name := range []string{TrainImagesFile, TrainLabelsFile, TestImagesFile, TestLabelsFile} {
		data, err := os.ReadFile(filepath.Join(RawDir(src), name))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		sum := sha256.Sum256(data)
		digests[name] = hex.EncodeToString(sum[:])
	}

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.ServeFile(w, r, filepath.Join(RawDir(src), filepath.Base(r.URL.Path)))
	}))
	defer srv.Close()

	dst := t.TempDir()
	d := Downloader{Client: srv.Client(), Mirrors: []string{srv.URL + "/"}, Digests: digests}
	if err := d.Ensure(context.Background(), RawDir(dst)); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if hits != 4 {
		t.Fatalf("expected 4 downloads, got %d", hits)
	}
	if err := d.Ensure(context.Background(), RawDir(dst)); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if hits != 4 {
		t.Fatalf("expected cached files, got %d downloads", hits)
	}
	set, err := LoadSet(filepath.Join(RawDir(dst), TestImagesFile), filepath.Join(RawDir(dst), TestLabelsFile))
	if err != nil {
		t.Fatalf("LoadSet: %v", err)
	}
	if set.Len() != 5 {
		t.Fatalf("expected 5 test examples, got %d", set.Len())
	}
}

func TestDownloaderChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not mnist"))
	}))
	defer srv.Close()

	d := Downloader{Client: srv.Client(), Mirrors: []string{srv.URL + "/"}}
	if err := d.Ensure(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected checksum error")
	}
}
