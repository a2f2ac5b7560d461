package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/alexgQQ/imagehash"
	"github.com/alexgQQ/imagehash/hash"
	"github.com/alexgQQ/imagehash/panichook"
	"github.com/alexgQQ/imagehash/server"
	"github.com/alexgQQ/imagehash/store"
	"github.com/alexgQQ/imagehash/utils"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	var logLevel = new(slog.LevelVar)
	opts := &slog.HandlerOptions{Level: logLevel}
	if os.Getenv("LOG_FORMAT") == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}
	if verbose {
		logLevel.Set(slog.LevelInfo)
	} else {
		logLevel.Set(slog.LevelWarn)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run() (err error) {
	defer panichook.Recover(&err)

	// A missing .env is fine, everything can come from flags
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	flag.Usage = func() {
		msg := `
Example usage:
Print the perceptual hash of some images
	imagehash image.jpg other.png
Hash every image under a directory and its subdirectories
	imagehash -r path/to/images
Compare two images
	imagehash -dupes duplicate/image.jpg duplicate/image-copy.jpg
Find and delete duplicate images in path/to/images
	imagehash -dupes -r -delete path/to/images
Read images from a file listing and output any duplicates found in a csv like format
	cat images.txt | imagehash -dupes -o - > duplicates.csv
Serve the hashing api, remembering hashes in ./hashes
	imagehash -serve -addr :8080 -db ./hashes`
		fmt.Fprintln(flag.CommandLine.Output(), "imagehash computes perceptual hashes of images and finds near duplicates")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s [-r | -v | -o | -q | -kind | -dupes | -m | -d | -db | -serve | -addr] <images> [<images> ...] \n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), msg)
	}

	var output bool
	var quiet bool
	var recursive bool
	var verbose bool
	var dupes bool
	var move bool
	var delete bool
	var version bool
	var kindName string
	var dbDir string
	var serve bool
	var addr string

	flag.BoolVar(&output, "output", false, "Suppress info output and only output results. Intended to be used for piping output to a file or process")
	flag.BoolVar(&output, "o", false, "alias for -output")

	flag.BoolVar(&quiet, "quiet", false, "Suppress all output")
	flag.BoolVar(&quiet, "q", false, "alias for -quiet")

	flag.BoolVar(&recursive, "recursive", false, "Search for images in subdirectories of any target directories")
	flag.BoolVar(&recursive, "r", false, "alias for -recursive")

	flag.BoolVar(&verbose, "verbose", false, "Run application with info logging")
	flag.BoolVar(&verbose, "v", false, "alias for -verbose")

	flag.BoolVar(&dupes, "dupes", false, "Find duplicate images instead of printing hashes")

	flag.BoolVar(&move, "move", false, "Move duplicate images to a `duplicates` directory, requires -dupes")
	flag.BoolVar(&move, "m", false, "alias for -move")

	flag.BoolVar(&delete, "delete", false, "Delete duplicate images, requires -dupes")
	flag.BoolVar(&delete, "d", false, "alias for -delete")

	flag.BoolVar(&version, "version", false, "Print the version and exit")

	kindNames := slices.Sorted(maps.Keys(hash.Kinds))
	flag.StringVar(&kindName, "kind", hash.Perceptual.Name, fmt.Sprintf("Which type of hash to compute. Available options are %s", strings.Join(kindNames, ", ")))

	flag.StringVar(&dbDir, "db", os.Getenv("IMAGEHASH_DB"), "Directory of a hash store to remember computed hashes in")
	flag.BoolVar(&serve, "serve", false, "Serve the hashing api instead of processing images")
	flag.StringVar(&addr, "addr", envOr("IMAGEHASH_ADDR", ":8080"), "Address for -serve to listen on")

	flag.Parse()
	setupLogging(verbose)

	if err := panichook.Install(panichook.Config{
		Enabled:  os.Getenv("IMAGEHASH_PANIC_HOOK") != "off",
		CrashLog: os.Getenv("IMAGEHASH_CRASH_LOG"),
	}); err != nil {
		slog.Warn("Failed to install panic hook", "error", err)
	}

	if version {
		fmt.Println(utils.VersionString())
		return nil
	}

	kind, ok := hash.Kinds[kindName]
	if !ok {
		return fmt.Errorf("invalid hash kind %q, available options are %s", kindName, strings.Join(kindNames, ", "))
	}
	hasher := imagehash.New().WithKind(kind)

	var st *store.Store
	if dbDir != "" {
		st, err = store.Open(store.Options{Dir: dbDir})
		if err != nil {
			return err
		}
		defer st.Close()
	}

	if serve {
		if st == nil {
			st, err = store.Open(store.Options{InMemory: true})
			if err != nil {
				return err
			}
			defer st.Close()
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return server.New(hasher, st).Run(ctx, addr)
	}

	targets, err := readTargets(flag.Args())
	if err != nil {
		return err
	}
	files, imgTarget := collectFiles(targets, recursive)
	if len(files) <= 0 {
		return errors.New("no image files were found")
	}

	infoWriter := io.Writer(os.Stdout)
	if output || quiet {
		infoWriter = io.Discard
	}
	resultWriter := io.Writer(os.Stdout)
	if quiet {
		resultWriter = io.Discard
	}

	if !dupes {
		return printHashes(hasher, st, files, resultWriter)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var duplicates [][]string
	var total int
	if imgTarget && len(files) > 1 {
		isDupe, results, err := hasher.Compare(files[0], files[1:]...)
		if err != nil {
			slog.Error("Error comparing images", "error", err)
		}
		if isDupe {
			duplicates = append(duplicates, append([]string{files[0]}, results...))
			total = len(results) + 1
		}
	} else {
		duplicates, total, err = hasher.Duplicates(ctx, files)
		if err != nil {
			return err
		}
	}

	if total == 0 {
		fmt.Fprintln(infoWriter, "No duplicate images found")
		return nil
	}
	fmt.Fprintf(infoWriter, "Found %d duplicate images\n", total)

	w := csv.NewWriter(resultWriter)
	for _, group := range duplicates {
		if err := w.Write(group); err != nil {
			slog.Error("Error writing record to csv", "error", err)
		}
	}
	w.Flush()

	if move {
		return moveDuplicates(duplicates, "duplicates")
	} else if delete {
		for _, files := range duplicates {
			if err := utils.DeleteFiles(files); err != nil {
				slog.Error("Error deleting files", "error", err)
			}
		}
	}
	return nil
}

func moveDuplicates(duplicates [][]string, dupeDir string) error {
	if err := os.Mkdir(dupeDir, 0750); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create %s: %w", dupeDir, err)
	}
	for _, files := range duplicates {
		if err := utils.MoveFiles(files, dupeDir); err != nil {
			slog.Error("Error moving files", "error", err)
		}
	}
	return nil
}

func readTargets(args []string) ([]string, error) {
	if len(args) <= 0 {
		return nil, errors.New("no arguments provided")
	}
	if !slices.Contains(args, "-") {
		return args, nil
	}
	var targets []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		// This could be problematic if filepaths have spaces, a bit of an edge case
		// so I won't worry for now
		targets = append(targets, strings.Fields(scanner.Text())...)
	}
	return targets, scanner.Err()
}

// When the first target is an image the rest are compared against it
func collectFiles(targets []string, recursive bool) (files []string, imgTarget bool) {
	for i, target := range targets {
		_, isImg, isDir := utils.ImageOrDir(target)
		if isImg {
			if i == 0 {
				imgTarget = true
			}
			files = append(files, target)
		} else if isDir {
			files = append(files, utils.FindImages(target, recursive)...)
		}
	}
	return
}

// printHashes writes path,hash rows. With a store, content seen before is
// answered from it instead of being decoded again.
func printHashes(hasher *imagehash.Hasher, st *store.Store, files []string, out io.Writer) error {
	w := csv.NewWriter(out)
	defer w.Flush()

	var errs error
	for _, f := range files {
		data, err := utils.ReadImage(f)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		sum, err := hashWithStore(hasher, st, f, data)
		if err != nil {
			slog.Error("Error hashing image", "file", f, "error", err)
			errs = errors.Join(errs, fmt.Errorf("%s: %w", f, err))
			continue
		}
		if err := w.Write([]string{f, sum}); err != nil {
			return err
		}
	}
	return errs
}

func hashWithStore(hasher *imagehash.Hasher, st *store.Store, name string, data []byte) (string, error) {
	if st == nil {
		return hasher.Hash(data)
	}
	digest := store.Digest(data)
	if rec, err := st.Get(digest); err == nil && rec.Kind == hasher.Kind().Name {
		slog.Info("Hash served from store", "file", name, "hash", rec.Hash)
		return rec.Hash, nil
	}
	res, err := hasher.Sum(data)
	if err != nil {
		return "", err
	}
	sum := res.Hash.String()
	err = st.Put(digest, store.Record{
		Hash:    sum,
		Kind:    hasher.Kind().Name,
		Format:  res.Format,
		Width:   res.Width,
		Height:  res.Height,
		Source:  name,
		Created: time.Now().Unix(),
	})
	if err != nil {
		slog.Error("Failed to record hash", "file", name, "error", err)
	}
	return sum, nil
}
