package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

const (
	TrainImagesFile = "train-images-idx3-ubyte.gz"
	TrainLabelsFile = "train-labels-idx1-ubyte.gz"
	TestImagesFile  = "t10k-images-idx3-ubyte.gz"
	TestLabelsFile  = "t10k-labels-idx1-ubyte.gz"
)

// DefaultMirrors are tried in order until one serves a file.
var DefaultMirrors = []string{
	"https://ossci-datasets.s3.amazonaws.com/mnist/",
	"http://yann.lecun.com/exdb/mnist/",
}

// DefaultDigests are the SHA-256 sums of the canonical archives.
var DefaultDigests = map[string]string{
	TrainImagesFile: "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609",
	TrainLabelsFile: "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c",
	TestImagesFile:  "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6",
	TestLabelsFile:  "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6",
}

// RawDir returns the directory holding the archives under root.
func RawDir(root string) string {
	return filepath.Join(root, "MNIST", "raw")
}

// Downloader fetches the MNIST archives into a local cache directory.
type Downloader struct {
	Client  *http.Client
	Mirrors []string
	Digests map[string]string
}

// Ensure downloads every archive missing from dir. Files already present
// are left untouched.
func (d *Downloader) Ensure(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	for _, name := range []string{TrainImagesFile, TrainLabelsFile, TestImagesFile, TestLabelsFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := d.fetch(ctx, name, path); err != nil {
			return err
		}
	}
	return nil
}

func (d *Downloader) fetch(ctx context.Context, name, path string) error {
	mirrors := d.Mirrors
	if len(mirrors) == 0 {
		mirrors = DefaultMirrors
	}
	var errs []error
	for _, mirror := range mirrors {
		url := mirror + name
		klog.Infof("downloading %s", url)
		err := d.fetchOne(ctx, url, name, path)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		klog.Warningf("mirror failed url=%s err=%v", url, err)
		errs = append(errs, err)
	}
	return fmt.Errorf("download %s: %w", name, errors.Join(errs...))
}

func (d *Downloader) fetchOne(ctx context.Context, url, name, path string) error {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), name+".part-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("read body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	digests := d.Digests
	if digests == nil {
		digests = DefaultDigests
	}
	if want, ok := digests[name]; ok {
		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			return fmt.Errorf("checksum mismatch for %s: got %s want %s", name, got, want)
		}
	}
	return os.Rename(tmp.Name(), path)
}
