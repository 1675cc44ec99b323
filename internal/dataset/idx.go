package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	imagesMagic = 0x00000803
	labelsMagic = 0x00000801
)

// Set is a labeled collection of grayscale images stored as raw bytes.
type Set struct {
	Rows   int
	Cols   int
	Pixels []byte
	Labels []uint8
}

// Len returns the number of examples.
func (s *Set) Len() int {
	return len(s.Labels)
}

// Example returns the pixels and label of example i.
func (s *Set) Example(i int) ([]byte, int) {
	size := s.Rows * s.Cols
	return s.Pixels[i*size : (i+1)*size], int(s.Labels[i])
}

// LoadSet reads a gzip-compressed IDX image file and its label file.
func LoadSet(imagesPath, labelsPath string) (*Set, error) {
	set := &Set{}
	err := withGzip(imagesPath, func(r io.Reader) error {
		var hdr [4]uint32
		if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		if hdr[0] != imagesMagic {
			return fmt.Errorf("bad magic %#x", hdr[0])
		}
		n, rows, cols := int(hdr[1]), int(hdr[2]), int(hdr[3])
		set.Rows, set.Cols = rows, cols
		set.Pixels = make([]byte, n*rows*cols)
		if _, err := io.ReadFull(r, set.Pixels); err != nil {
			return fmt.Errorf("read pixels: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load images %s: %w", imagesPath, err)
	}

	err = withGzip(labelsPath, func(r io.Reader) error {
		var hdr [2]uint32
		if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		if hdr[0] != labelsMagic {
			return fmt.Errorf("bad magic %#x", hdr[0])
		}
		set.Labels = make([]uint8, hdr[1])
		if _, err := io.ReadFull(r, set.Labels); err != nil {
			return fmt.Errorf("read labels: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load labels %s: %w", labelsPath, err)
	}

	if len(set.Pixels) != len(set.Labels)*set.Rows*set.Cols {
		return nil, fmt.Errorf("load set: %d labels for %d images", len(set.Labels), len(set.Pixels)/(set.Rows*set.Cols))
	}
	return set, nil
}

// WriteSet stores set as a pair of gzip-compressed IDX files.
func WriteSet(set *Set, imagesPath, labelsPath string) error {
	err := writeGzip(imagesPath, func(w io.Writer) error {
		hdr := [4]uint32{imagesMagic, uint32(set.Len()), uint32(set.Rows), uint32(set.Cols)}
		if err := binary.Write(w, binary.BigEndian, hdr); err != nil {
			return err
		}
		_, err := w.Write(set.Pixels)
		return err
	})
	if err != nil {
		return fmt.Errorf("write images: %w", err)
	}
	err = writeGzip(labelsPath, func(w io.Writer) error {
		hdr := [2]uint32{labelsMagic, uint32(set.Len())}
		if err := binary.Write(w, binary.BigEndian, hdr); err != nil {
			return err
		}
		_, err := w.Write(set.Labels)
		return err
	})
	if err != nil {
		return fmt.Errorf("write labels: %w", err)
	}
	return nil
}

func withGzip(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return err
	}
	defer zr.Close()
	return fn(zr)
}

func writeGzip(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if err := fn(zw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}
