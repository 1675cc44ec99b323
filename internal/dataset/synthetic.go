package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

// Synthetic builds n 28×28 examples where class k lights up a distinct
// pair of rows on a noisy background. It stands in for MNIST in offline
// runs.
func Synthetic(n int, seed int64) *Set {
	const side = 28
	rng := rand.New(rand.NewSource(seed))
	set := &Set{
		Rows:   side,
		Cols:   side,
		Pixels: make([]byte, n*side*side),
		Labels: make([]uint8, n),
	}
	for i := 0; i < n; i++ {
		label := rng.Intn(10)
		set.Labels[i] = uint8(label)
		img := set.Pixels[i*side*side : (i+1)*side*side]
		for j := range img {
			img[j] = uint8(rng.Intn(40))
		}
		for _, row := range []int{2*label + 4, 2*label + 5} {
			for col := 4; col < side-4; col++ {
				img[row*side+col] = uint8(200 + rng.Intn(56))
			}
		}
	}
	return set
}

// WriteSynthetic stores synthetic train and test archives under root in the
// layout Prepare expects, so no download happens.
func WriteSynthetic(root string, nTrain, nTest int, seed int64) error {
	raw := RawDir(root)
	if err := os.MkdirAll(raw, 0o755); err != nil {
		return fmt.Errorf("create raw dir: %w", err)
	}
	if err := WriteSet(Synthetic(nTrain, seed), filepath.Join(raw, TrainImagesFile), filepath.Join(raw, TrainLabelsFile)); err != nil {
		return err
	}
	return WriteSet(Synthetic(nTest, seed+1), filepath.Join(raw, TestImagesFile), filepath.Join(raw, TestLabelsFile))
}
