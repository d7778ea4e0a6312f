package data

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-recolor/palette"
	"github.com/tsawler/go-recolor/tensor"
	"github.com/tsawler/go-recolor/training"
)

// LoaderConfig controls batching behavior.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	Seed      int64

	// Prefetch is how many assembled batches may sit ready ahead of the
	// consumer. Zero means assemble on demand.
	Prefetch int

	// DropLast discards a trailing batch smaller than BatchSize.
	DropLast bool
}

// Loader assembles dataset examples into batch tensors.
type Loader struct {
	ds          Dataset
	cfg         LoaderConfig
	paletteSize int
}

// NewLoader validates the config against the dataset.
func NewLoader(ds Dataset, paletteSize int, cfg LoaderConfig) (*Loader, error) {
	if ds == nil {
		return nil, errors.New("loader requires a dataset")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if paletteSize <= 0 {
		return nil, errors.Errorf("palette size must be positive, got %d", paletteSize)
	}
	return &Loader{ds: ds, cfg: cfg, paletteSize: paletteSize}, nil
}

// Batches returns the number of batches one pass over the dataset yields.
func (l *Loader) Batches() int {
	n := l.ds.Len() / l.cfg.BatchSize
	if !l.cfg.DropLast && l.ds.Len()%l.cfg.BatchSize != 0 {
		n++
	}
	return n
}

// Stream launches a background producer that assembles batches in dataset or
// shuffled order and sends them on the returned channel. The channel closes
// when the pass completes or the context is canceled; call the returned wait
// function to collect the producer's error.
func (l *Loader) Stream(ctx context.Context) (<-chan training.AdversarialBatch, func() error) {
	out := make(chan training.AdversarialBatch, l.cfg.Prefetch)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(out)

		rng := rand.New(rand.NewSource(l.cfg.Seed))

		order := make([]int, l.ds.Len())
		for i := range order {
			order[i] = i
		}
		if l.cfg.Shuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		for start := 0; start < len(order); start += l.cfg.BatchSize {
			end := start + l.cfg.BatchSize
			if end > len(order) {
				if l.cfg.DropLast {
					break
				}
				end = len(order)
			}

			batch, err := l.assemble(order[start:end], rng)
			if err != nil {
				return err
			}

			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	})

	return out, g.Wait
}

// assemble stacks the indexed examples into one batch of tensors. Each row
// also draws an unrelated example, whose source image and palette become the
// batch's real pair for the discriminator probes.
func (l *Loader) assemble(indices []int, rng *rand.Rand) (training.AdversarialBatch, error) {
	var batch training.AdversarialBatch

	n := len(indices)
	examples := make([]Example, n)
	originals := make([]Example, n)
	for i, idx := range indices {
		ex, err := l.ds.Example(idx)
		if err != nil {
			return batch, errors.Wrapf(err, "failed to read example %d", idx)
		}
		examples[i] = ex

		orig, err := l.ds.Example(l.unrelatedIndex(idx, rng))
		if err != nil {
			return batch, errors.Wrapf(err, "failed to read unrelated example for %d", idx)
		}
		originals[i] = orig
	}

	h, w := l.ds.Dims()
	pixels := h * w
	srcLen := 3 * pixels
	abLen := 2 * pixels

	source := make([]float32, 0, n*srcLen)
	targetAB := make([]float32, 0, n*abLen)
	original := make([]float32, 0, n*srcLen)
	srcPals := make([]palette.Palette, n)
	tgtPals := make([]palette.Palette, n)
	origPals := make([]palette.Palette, n)

	for i, ex := range examples {
		if len(ex.Source) != srcLen || len(ex.TargetAB) != abLen {
			return batch, errors.Errorf("example %d has inconsistent image size", indices[i])
		}
		source = append(source, ex.Source...)
		targetAB = append(targetAB, ex.TargetAB...)
		original = append(original, originals[i].Source...)
		srcPals[i] = ex.SourcePalette
		tgtPals[i] = ex.TargetPalette
		origPals[i] = originals[i].SourcePalette
	}

	var err error
	batch.Source, err = tensor.NewTensor([]int{n, 3, h, w}, tensor.Float32, tensor.CPU, source)
	if err != nil {
		return batch, errors.Wrap(err, "failed to build source tensor")
	}
	batch.TargetAB, err = tensor.NewTensor([]int{n, 2, h, w}, tensor.Float32, tensor.CPU, targetAB)
	if err != nil {
		return batch, errors.Wrap(err, "failed to build target tensor")
	}
	batch.Original, err = tensor.NewTensor([]int{n, 3, h, w}, tensor.Float32, tensor.CPU, original)
	if err != nil {
		return batch, errors.Wrap(err, "failed to build unrelated image tensor")
	}
	batch.SourcePalette, err = palette.FlattenBatch(srcPals, l.paletteSize)
	if err != nil {
		return batch, errors.Wrap(err, "failed to flatten source palettes")
	}
	batch.TargetPalette, err = palette.FlattenBatch(tgtPals, l.paletteSize)
	if err != nil {
		return batch, errors.Wrap(err, "failed to flatten target palettes")
	}
	batch.OriginalPalette, err = palette.FlattenBatch(origPals, l.paletteSize)
	if err != nil {
		return batch, errors.Wrap(err, "failed to flatten unrelated palettes")
	}

	return batch, nil
}

// unrelatedIndex draws an index distinct from idx whenever the dataset has
// more than one example.
func (l *Loader) unrelatedIndex(idx int, rng *rand.Rand) int {
	size := l.ds.Len()
	if size < 2 {
		return idx
	}
	j := rng.Intn(size - 1)
	if j >= idx {
		j++
	}
	return j
}
