package catalog

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const progressEvery = 10_000_000

// DumpScanner finds promo codes that occur in several gzip-compressed code
// dumps. Each dump is one code per line. A bloom filter per dump keeps memory
// bounded, so every dump is read twice.
type DumpScanner struct {
	// Capacity is the expected number of codes per dump.
	Capacity uint
	// FPR is the target false positive rate of each filter.
	FPR float64
	// MinLen and MaxLen bound the accepted code length.
	MinLen, MaxLen int
	// MinFiles is how many dumps a code must occur in. Defaults to 2.
	MinFiles int

	Logger *zap.Logger
}

// Scan returns the sorted codes found in at least MinFiles of files.
func (s *DumpScanner) Scan(ctx context.Context, files []string) ([]string, error) {
	if len(files) > bits.UintSize {
		return nil, errors.Errorf("too many dumps: %d", len(files))
	}
	lg := s.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	lg.Info("Building bloom filters", zap.Int("files", len(files)))
	filters, err := s.buildFilters(ctx, lg, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	lg.Info("Finding codes shared between dumps")
	return s.findShared(ctx, lg, files, filters)
}

func (s *DumpScanner) accept(code string) bool {
	return len(code) >= s.MinLen && (s.MaxLen == 0 || len(code) <= s.MaxLen)
}

func (s *DumpScanner) buildFilters(ctx context.Context, lg *zap.Logger, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(s.Capacity, s.FPR)
			var count uint64
			if err := streamGzFile(ctx, path, func(code string) {
				if !s.accept(code) {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					lg.Info("Filter progress", zap.Int("file", i+1), zap.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			lg.Info("Filter built", zap.Int("file", i+1), zap.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findShared re-reads every dump and marks a code with the dump's bit when
// another dump's filter also contains it. A code is kept once enough bits are
// set.
func (s *DumpScanner) findShared(ctx context.Context, lg *zap.Logger, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)

			if err := streamGzFile(ctx, path, func(code string) {
				if !s.accept(code) {
					return
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= fileBit
						return
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}

			lg.Info("Candidates found", zap.Int("file", i+1), zap.Int("candidates", len(candidates)))
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}

	minFiles := s.MinFiles
	if minFiles < 2 {
		minFiles = 2
	}
	var shared []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= minFiles {
			shared = append(shared, code)
		}
	}
	slices.Sort(shared)
	return shared, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
