// Package server exposes hashing over HTTP. Uploaded images are hashed,
// recorded in the store and flagged when their hash was already known.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexgQQ/imagehash"
	"github.com/alexgQQ/imagehash/store"
	"github.com/alexgQQ/imagehash/utils"
	"github.com/gin-gonic/gin"
)

const DefaultMaxBodySize = 32 << 20

type HashResponse struct {
	Hash      string `json:"hash"`
	Format    string `json:"format,omitempty"`
	Digest    string `json:"digest"`
	Duplicate bool   `json:"duplicate"`
}

type HashesResponse struct {
	Hashes []string `json:"hashes"`
}

type Server struct {
	hasher      *imagehash.Hasher
	store       *store.Store
	engine      *gin.Engine
	maxBodySize int64
}

func New(hasher *imagehash.Hasher, st *store.Store) *Server {
	s := &Server{
		hasher:      hasher,
		store:       st,
		maxBodySize: DefaultMaxBodySize,
	}

	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.POST("/hash", s.handleHash)
		api.GET("/hashes", s.handleHashes)
		api.GET("/health", s.handleHealth)
	}
	s.engine = router
	return s
}

// WithMaxBodySize limits how many bytes an upload may carry.
func (s *Server) WithMaxBodySize(n int64) *Server {
	s.maxBodySize = n
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHash(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, s.maxBodySize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty request body"})
		return
	}
	if int64(len(data)) > s.maxBodySize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("body exceeds %d bytes", s.maxBodySize)})
		return
	}

	digest := store.Digest(data)
	if rec, err := s.store.Get(digest); err == nil && rec.Kind == s.hasher.Kind().Name {
		slog.Info("Hash served from store", "digest", digest, "hash", rec.Hash)
		c.JSON(http.StatusOK, HashResponse{Hash: rec.Hash, Format: rec.Format, Digest: digest, Duplicate: true})
		return
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Failed to read store", "digest", digest, "error", err)
	}

	res, err := s.hasher.Sum(data)
	if errors.Is(err, imagehash.ErrDecode) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		slog.Error("Failed to hash image", "digest", digest, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sum := res.Hash.String()
	duplicate, err := s.store.Has(sum)
	if err != nil {
		slog.Error("Failed to check store", "hash", sum, "error", err)
	}
	rec := store.Record{
		Hash:    sum,
		Kind:    s.hasher.Kind().Name,
		Format:  res.Format,
		Width:   res.Width,
		Height:  res.Height,
		Source:  c.GetHeader("X-Source"),
		Created: time.Now().Unix(),
	}
	if err := s.store.Put(digest, rec); err != nil {
		slog.Error("Failed to record hash", "hash", sum, "error", err)
	}

	slog.Info("Computed image hash", "digest", digest, "hash", sum, "format", res.Format, "duplicate", duplicate)
	c.JSON(http.StatusOK, HashResponse{Hash: sum, Format: res.Format, Digest: digest, Duplicate: duplicate})
}

func (s *Server) handleHashes(c *gin.Context) {
	hashes, err := s.store.Hashes()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if hashes == nil {
		hashes = []string{}
	}
	c.JSON(http.StatusOK, HashesResponse{Hashes: hashes})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": utils.VersionString()})
}
