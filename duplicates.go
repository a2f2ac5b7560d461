package imagehash

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/alexgQQ/imagehash/hash"
	"github.com/alexgQQ/imagehash/utils"
	"github.com/alexgQQ/imagehash/vptree"
	"github.com/puzpuzpuz/xsync/v4"
)

type digestResult struct {
	once sync.Once
	hash *hash.Hash
	err  error
}

type work struct {
	id   uint
	path string
}

// hashFiles hashes every file with a pool of workers. Files with identical
// content are only decoded and hashed once.
func (h *Hasher) hashFiles(ctx context.Context, files []string) ([]*vptree.Item, error) {
	var wg sync.WaitGroup
	seen := xsync.NewMap[[sha256.Size]byte, *digestResult]()

	// By default this will be the runtime.NumCPU but will be GOMAXPROCS if set in the environment
	nWorkers := runtime.GOMAXPROCS(0)
	jobs := make(chan work)
	results := make(chan *vptree.Item)

	for range nWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				data, err := utils.ReadImage(w.path)
				if err != nil {
					slog.Error("Error loading image", "file", w.path, "error", err)
					continue
				}
				res, loaded := seen.LoadOrCompute(sha256.Sum256(data), func() (*digestResult, bool) {
					return &digestResult{}, false
				})
				res.once.Do(func() {
					img, format, err := DecodeLimit(data, h.maxPixels)
					if err != nil {
						res.err = err
						return
					}
					slog.Debug("Decoded image", "file", w.path, "format", format)
					res.hash, res.err = h.HashImage(img)
				})
				if res.err != nil {
					slog.Error("Error hashing image", "file", w.path, "error", res.err)
					continue
				}
				slog.Info("Computed image hash", "file", w.path, "hash", res.hash, "cached", loaded)
				results <- &vptree.Item{ID: w.id, Path: w.path, Hash: res.hash}
			}
		}()
	}

	// Handle shifting files onto the worker queue and synchronizing
	go func() {
		defer func() {
			close(jobs)
			wg.Wait()
			close(results)
		}()
		for i, f := range files {
			select {
			case jobs <- work{id: uint(i), path: f}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var items []*vptree.Item
	for item := range results {
		items = append(items, item)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Keep the output stable regardless of worker scheduling
	slices.SortFunc(items, func(a, b *vptree.Item) int { return int(a.ID) - int(b.ID) })
	return items, nil
}

func gatherDuplicates(tree *vptree.VPTree, threshold float64) ([][]*vptree.Item, int) {
	var total int
	var groups [][]*vptree.Item
	skip := make(map[uint]bool)

	for item := range tree.All() {
		if skip[item.ID] {
			continue
		}
		found, dist := tree.Within(item, threshold)
		if len(found) == 0 {
			continue
		}
		slog.Info("VPTree found results within item", "item", item.Path, "results", len(found), "distances", dist, "threshold", threshold)

		// Anything picked up by the reciprocal search is at most
		// twice the threshold from the first item
		group := []*vptree.Item{item}
		for _, i := range found {
			group = append(group, i)
			f, _ := tree.Within(i, threshold)
			group = append(group, f...)
		}
		slices.SortFunc(group, func(a, b *vptree.Item) int { return int(a.ID) - int(b.ID) })
		group = slices.CompactFunc(group, func(a, b *vptree.Item) bool { return a.ID == b.ID })
		group = slices.DeleteFunc(group, func(i *vptree.Item) bool { return skip[i.ID] && i.ID != item.ID })
		if len(group) < 2 {
			continue
		}
		for _, i := range group {
			skip[i.ID] = true
		}
		total += len(group)
		groups = append(groups, group)
	}
	return groups, total
}

// Duplicates hashes files and groups those within the hash kind's threshold of
// each other. It returns the groups of file paths and the number of files in them.
// Files that can not be read or decoded are logged and left out.
func (h *Hasher) Duplicates(ctx context.Context, files []string) ([][]string, int, error) {
	if err := h.Validate(); err != nil {
		return nil, 0, err
	}
	items, err := h.hashFiles(ctx, files)
	if err != nil {
		return nil, 0, err
	}
	slog.Info("Gathered image hashes", "imageCount", len(files), "hashed", len(items))

	groups, total := gatherDuplicates(vptree.New(items), h.kind.Threshold)
	slog.Info("Duplicate images found", "count", total)

	filegroups := make([][]string, len(groups))
	for i, group := range groups {
		paths := make([]string, len(group))
		for j, item := range group {
			paths[j] = item.Path
		}
		filegroups[i] = paths
	}
	slices.SortFunc(filegroups, func(a, b []string) int { return slices.Compare(a, b) })
	return filegroups, total, nil
}

// Compare checks target against others and returns the ones that are duplicates of it.
func (h *Hasher) Compare(target string, others ...string) (bool, []string, error) {
	data, err := utils.ReadImage(target)
	if err != nil {
		return false, nil, fmt.Errorf("read %s: %w", target, err)
	}
	res, err := h.Sum(data)
	if err != nil {
		return false, nil, fmt.Errorf("hash %s: %w", target, err)
	}

	var matches []string
	var errs error
	for _, other := range others {
		data, err := utils.ReadImage(other)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("read %s: %w", other, err))
			continue
		}
		o, err := h.Sum(data)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("hash %s: %w", other, err))
			continue
		}
		dist, err := hash.Distance(res.Hash, o.Hash)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if float64(dist) < h.kind.Threshold {
			slog.Info("Found duplicate", "target", target, "file", other, "distance", dist)
			matches = append(matches, other)
		}
	}
	return len(matches) > 0, matches, errs
}
