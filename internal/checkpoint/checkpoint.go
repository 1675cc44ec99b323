package checkpoint

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"k8s.io/klog/v2"

	"mnist-forge/internal/model"
)

// LastName is the file that always holds the most recent epoch.
const LastName = "last.ckpt"

// Checkpoint is the persisted form of the model weights at an epoch.
type Checkpoint struct {
	Epoch      int
	GlobalStep int
	Monitor    string
	Score      float64
	State      map[string]model.Tensor
}

// FileName returns the checkpoint file name for epoch.
func FileName(epoch int) string {
	return fmt.Sprintf("epoch=%02d.ckpt", epoch)
}

// Save writes ck to path, replacing any existing file.
func Save(path string, ck Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := gob.NewEncoder(tmp).Encode(ck); err != nil {
		tmp.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a checkpoint written by Save.
func Load(path string) (Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checkpoint{}, err
	}
	defer f.Close()
	var ck Checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return ck, nil
}

type saved struct {
	epoch int
	score float64
	path  string
}

// Callback keeps the SaveTopK epochs with the lowest monitored score, plus
// last.ckpt when SaveLast is set.
type Callback struct {
	Dir      string
	SaveTopK int
	SaveLast bool
	Monitor  string

	best []saved
}

// OnEpochEnd records the epoch's score and updates the files on disk.
func (c *Callback) OnEpochEnd(epoch, globalStep int, score float64, state map[string]model.Tensor) error {
	ck := Checkpoint{Epoch: epoch, GlobalStep: globalStep, Monitor: c.Monitor, Score: score, State: state}

	if c.SaveTopK > 0 && !math.IsNaN(score) && c.improves(score) {
		path := filepath.Join(c.Dir, FileName(epoch))
		if err := Save(path, ck); err != nil {
			return err
		}
		c.best = append(c.best, saved{epoch: epoch, score: score, path: path})
		sort.SliceStable(c.best, func(i, j int) bool { return c.best[i].score < c.best[j].score })
		if len(c.best) > c.SaveTopK {
			evicted := c.best[len(c.best)-1]
			c.best = c.best[:len(c.best)-1]
			if err := os.Remove(evicted.path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove checkpoint: %w", err)
			}
		}
		klog.Infof("checkpoint epoch=%d %s=%.4f saved=%s", epoch, c.Monitor, score, path)
	}

	if c.SaveLast {
		if err := Save(filepath.Join(c.Dir, LastName), ck); err != nil {
			return err
		}
	}
	return nil
}

func (c *Callback) improves(score float64) bool {
	if len(c.best) < c.SaveTopK {
		return true
	}
	return score < c.best[len(c.best)-1].score
}

// BestPath returns the checkpoint with the lowest score, or "".
func (c *Callback) BestPath() string {
	if len(c.best) == 0 {
		return ""
	}
	return c.best[0].path
}

// Kept returns the epochs currently kept as top-k, best first.
func (c *Callback) Kept() []int {
	epochs := make([]int, len(c.best))
	for i, s := range c.best {
		epochs[i] = s.epoch
	}
	return epochs
}
