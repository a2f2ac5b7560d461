package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".tif", ".tiff"}

// ReadImage reads the raw encoded bytes of an image file, decoding is left to the hasher
func ReadImage(file string) ([]byte, error) {
	info, err := os.Stat(file)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", file)
	}
	return os.ReadFile(file)
}

func matchesAnyExt(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func isImage(filename string) bool {
	return matchesAnyExt(filename, imageExtensions)
}

// It would be interesting to do this in an iterator pattern
// instead of loading a array of strings that could be potentially very large
func FindImages(root string, subdirs bool) []string {
	var images []string
	filepath.WalkDir(root, func(s string, d fs.DirEntry, e error) error {
		if e != nil {
			return e
		}
		if !subdirs && root != s && d.IsDir() {
			return fs.SkipDir
		}
		if !d.IsDir() && isImage(d.Name()) {
			images = append(images, s)
		}
		return nil
	})
	return images
}

// Bubble up any errors without breaking the loop
func MoveFiles(files []string, dir string) (e error) {
	for _, src := range files {
		filename := filepath.Base(src)
		dst := filepath.Join(dir, filename)
		err := os.Rename(src, dst)
		e = errors.Join(e, err)
	}
	return
}

// Bubble up any errors without breaking the loop
func DeleteFiles(files []string) (e error) {
	for _, f := range files {
		err := os.Remove(f)
		e = errors.Join(e, err)
	}
	return
}

func ImageOrDir(path string) (abs string, isImg bool, isDir bool) {
	if path == "" {
		return
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	file, err := os.Stat(abs)
	if err != nil {
		return
	}

	if file.IsDir() {
		isDir = true
	} else if isImage(file.Name()) {
		isImg = true
	}
	return
}
