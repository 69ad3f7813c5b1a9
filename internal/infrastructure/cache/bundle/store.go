// Package bundle persists index bundles as three framed artifacts per source
// and refuses to return anything but a complete, consistent bundle.
package bundle

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
	"github.com/kirillkom/hybrid-retriever/internal/core/ports"
)

type LexicalDecoder func(data []byte) (ports.LexicalIndex, error)

type DenseDecoder func(data []byte) (ports.DenseIndex, error)

type Store struct {
	storage ports.ArtifactStorage
	logger  *slog.Logger
	lexical map[string]LexicalDecoder
	dense   map[string]DenseDecoder
}

var _ ports.BundleCache = (*Store)(nil)

func New(storage ports.ArtifactStorage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		storage: storage,
		logger:  logger,
		lexical: make(map[string]LexicalDecoder),
		dense:   make(map[string]DenseDecoder),
	}
}

// RegisterLexical makes artifacts of the given index kind loadable.
func (s *Store) RegisterLexical(kind string, dec LexicalDecoder) {
	s.lexical[kind] = dec
}

func (s *Store) RegisterDense(kind string, dec DenseDecoder) {
	s.dense[kind] = dec
}

func ArtifactNames(key domain.SourceKey) (chunks, lexical, dense string) {
	return string(key) + "_chunks.bin", string(key) + "_lexical.bin", string(key) + "_dense.bin"
}

func (s *Store) Load(ctx context.Context, key domain.SourceKey) (*ports.IndexBundle, error) {
	bundle, err := s.load(ctx, key)
	if err != nil {
		s.logger.Debug("cache_miss", "source_key", key, "reason", err.Error())
		return nil, domain.WrapError(domain.ErrCacheMiss, "load bundle", err)
	}
	return bundle, nil
}

func (s *Store) load(ctx context.Context, key domain.SourceKey) (*ports.IndexBundle, error) {
	chunksName, lexicalName, denseName := ArtifactNames(key)
	names := []string{chunksName, lexicalName, denseName}
	for _, name := range names {
		ok, err := s.storage.Exists(ctx, name)
		if err != nil {
			s.logger.Warn("cache_artifact_unreadable", "artifact", name, "error", err)
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		if !ok {
			return nil, fmt.Errorf("artifact %s missing", name)
		}
	}

	headers := make([]frameHeader, len(names))
	payloads := make([][]byte, len(names))
	for i, name := range names {
		raw, err := s.read(ctx, name)
		if err != nil {
			return nil, err
		}
		h, payload, err := decodeFrame(raw)
		if err != nil {
			s.logger.Warn("cache_artifact_corrupt", "artifact", name, "error", err)
			return nil, fmt.Errorf("%s: %w: %w", name, domain.ErrCorruptArtifact, err)
		}
		if want := artifactType(i + 1); h.Type != want {
			return nil, fmt.Errorf("%s holds %s artifact, expected %s", name, h.Type, want)
		}
		if h.Key != string(key) {
			return nil, fmt.Errorf("%s belongs to source key %q", name, h.Key)
		}
		headers[i] = h
		payloads[i] = payload
	}

	buildID := headers[0].BuildID
	for _, h := range headers[1:] {
		if h.BuildID != buildID {
			return nil, fmt.Errorf("mixed build generations %s and %s", buildID, h.BuildID)
		}
	}

	chunks, err := decodeChunks(payloads[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", chunksName, domain.ErrCorruptArtifact, err)
	}

	decodeLexical, ok := s.lexical[headers[1].Kind]
	if !ok {
		return nil, fmt.Errorf("unknown lexical index kind %q", headers[1].Kind)
	}
	lexical, err := decodeLexical(payloads[1])
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", lexicalName, domain.ErrCorruptArtifact, err)
	}

	decodeDense, ok := s.dense[headers[2].Kind]
	if !ok {
		return nil, fmt.Errorf("unknown dense index kind %q", headers[2].Kind)
	}
	dense, err := decodeDense(payloads[2])
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", denseName, domain.ErrCorruptArtifact, err)
	}

	if lexical.Len() != len(chunks) || dense.Len() != len(chunks) {
		return nil, fmt.Errorf(
			"inconsistent bundle: %d chunks, lexical %d, dense %d",
			len(chunks), lexical.Len(), dense.Len(),
		)
	}

	return &ports.IndexBundle{
		Key:     key,
		BuildID: buildID,
		Chunks:  chunks,
		Lexical: lexical,
		Dense:   dense,
	}, nil
}

func (s *Store) read(ctx context.Context, name string) ([]byte, error) {
	rc, err := s.storage.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return raw, nil
}

// Save assigns a fresh BuildID when the bundle has none. Every artifact is
// encoded before the first write.
func (s *Store) Save(ctx context.Context, bundle *ports.IndexBundle) error {
	if bundle == nil || bundle.Lexical == nil || bundle.Dense == nil {
		return domain.WrapError(domain.ErrInvalidInput, "save bundle", errors.New("incomplete bundle"))
	}
	if bundle.Lexical.Len() != len(bundle.Chunks) || bundle.Dense.Len() != len(bundle.Chunks) {
		return domain.WrapError(domain.ErrInvalidInput, "save bundle", fmt.Errorf(
			"inconsistent bundle: %d chunks, lexical %d, dense %d",
			len(bundle.Chunks), bundle.Lexical.Len(), bundle.Dense.Len(),
		))
	}
	if bundle.BuildID == "" {
		bundle.BuildID = uuid.NewString()
	}

	lexicalPayload, err := bundle.Lexical.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode lexical index: %w", err)
	}
	densePayload, err := bundle.Dense.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode dense index: %w", err)
	}

	chunksName, lexicalName, denseName := ArtifactNames(bundle.Key)
	header := func(t artifactType, kind string) frameHeader {
		return frameHeader{Type: t, Key: string(bundle.Key), Kind: kind, BuildID: bundle.BuildID}
	}
	artifacts := []struct {
		name    string
		header  frameHeader
		payload []byte
	}{
		{chunksName, header(artifactChunks, chunksKind), encodeChunks(bundle.Chunks)},
		{lexicalName, header(artifactLexical, bundle.Lexical.Kind()), lexicalPayload},
		{denseName, header(artifactDense, bundle.Dense.Kind()), densePayload},
	}
	frames := make([][]byte, len(artifacts))
	for i, a := range artifacts {
		frame, err := encodeFrame(a.header, a.payload)
		if err != nil {
			return domain.WrapError(domain.ErrInvalidInput, "save bundle", fmt.Errorf("encode %s: %w", a.name, err))
		}
		frames[i] = frame
	}

	for i, a := range artifacts {
		if err := s.storage.Save(ctx, a.name, bytes.NewReader(frames[i])); err != nil {
			return fmt.Errorf("write %s: %w", a.name, err)
		}
	}

	s.logger.Info("bundle_saved",
		"source_key", bundle.Key,
		"build_id", bundle.BuildID,
		"chunks", len(bundle.Chunks),
	)
	return nil
}

// BuildID reads only the chunk artifact's frame header. It returns
// domain.ErrCacheMiss when the artifact is absent or unreadable. A matching
// BuildID does not prove the other two artifacts are complete; Load does.
func (s *Store) BuildID(ctx context.Context, key domain.SourceKey) (string, error) {
	chunksName, _, _ := ArtifactNames(key)
	rc, err := s.storage.Open(ctx, chunksName)
	if err != nil {
		if domain.IsKind(err, domain.ErrCacheMiss) {
			return "", err
		}
		return "", fmt.Errorf("open %s: %w", chunksName, err)
	}
	defer rc.Close()

	h, _, _, err := readHeader(bufio.NewReaderSize(rc, 512))
	if err != nil {
		return "", domain.WrapError(domain.ErrCacheMiss, "read build id", fmt.Errorf("%s: %w: %w", chunksName, domain.ErrCorruptArtifact, err))
	}
	if h.Type != artifactChunks || h.Key != string(key) {
		return "", domain.WrapError(domain.ErrCacheMiss, "read build id", fmt.Errorf("%s does not hold chunks of %q", chunksName, key))
	}
	return h.BuildID, nil
}

func (s *Store) Delete(ctx context.Context, key domain.SourceKey) error {
	chunksName, lexicalName, denseName := ArtifactNames(key)
	var errs []error
	for _, name := range []string{chunksName, lexicalName, denseName} {
		if err := s.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
