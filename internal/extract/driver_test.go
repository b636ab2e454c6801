package extract

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartkit/nxcart/pkg/nca"
)

type memReaderAt []byte

func (m memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, nil
	}
	n := copy(p, m[off:])
	return n, nil
}

func buildTarget(name string, payload []byte) Target {
	h := &nca.Header{}
	h.SectionTables[0] = nca.SectionEntry{MediaStartOffset: 0, MediaEndOffset: uint32(len(payload) / nca.MediaUnitSize)}
	h.FsHeaders[0].CryptoType = nca.CryptoTypeNone
	return Target{Name: name, Header: h, Reader: memReaderAt(payload)}
}

func TestRunEmitsEverySectionOfEveryTarget(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, nca.MediaUnitSize*4)
	targets := []Target{buildTarget("a", payload), buildTarget("b", payload)}

	var mu sync.Mutex
	seen := map[string]int{}

	err := Run(context.Background(), targets, 2, func(ctx context.Context, target Target, sectionIndex int, section nca.SectionReader, size int64) error {
		buf := make([]byte, size)
		if _, err := section.ReadAt(buf, 0); err != nil {
			return err
		}
		mu.Lock()
		seen[target.Name]++
		mu.Unlock()
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 1, seen["a"])
	require.Equal(t, 1, seen["b"])
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, nca.MediaUnitSize*4)
	targets := []Target{buildTarget("a", payload)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, targets, 1, func(ctx context.Context, target Target, sectionIndex int, section nca.SectionReader, size int64) error {
		t.Fatal("sink should not run once the context is already cancelled")
		return nil
	})
	require.Error(t, err)
}

func TestRunPropagatesSinkError(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, nca.MediaUnitSize*4)
	targets := []Target{buildTarget("a", payload)}

	err := Run(context.Background(), targets, 1, func(ctx context.Context, target Target, sectionIndex int, section nca.SectionReader, size int64) error {
		return context.Canceled
	})
	require.Error(t, err)
}
