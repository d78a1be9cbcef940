package fetch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
)

// Artifact records one extracted release in the cache.
type Artifact struct {
	Version   string        `json:"version"`
	Filename  string        `json:"filename"`
	Source    string        `json:"source"`
	Digest    digest.Digest `json:"digest"`
	ExePath   string        `json:"exe_path"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// Index keeps track of fetched artifacts.
type Index interface {
	Record(ctx context.Context, a Artifact) error
	Get(ctx context.Context, version string) (*Artifact, error)
	List(ctx context.Context) ([]Artifact, error)
}

// SQLiteIndex stores artifacts in the artifacts table created by the
// embedded migrations.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex returns an index backed by db. The schema must already
// be migrated.
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// Record inserts or replaces the artifact for a.Version.
func (idx *SQLiteIndex) Record(ctx context.Context, a Artifact) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO artifacts (version, filename, source, digest, exe_path, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			filename = excluded.filename,
			source = excluded.source,
			digest = excluded.digest,
			exe_path = excluded.exe_path,
			fetched_at = excluded.fetched_at`,
		a.Version, a.Filename, a.Source, a.Digest.String(), a.ExePath,
		a.FetchedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording artifact %s: %w", a.Version, err)
	}
	return nil
}

// Get returns the artifact for version or ErrArtifactNotFound.
func (idx *SQLiteIndex) Get(ctx context.Context, version string) (*Artifact, error) {
	row := idx.db.QueryRowContext(ctx, `
		SELECT version, filename, source, digest, exe_path, fetched_at
		FROM artifacts WHERE version = ?`, version)

	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, version)
	}
	if err != nil {
		return nil, fmt.Errorf("getting artifact %s: %w", version, err)
	}
	return a, nil
}

// List returns all artifacts, newest first.
func (idx *SQLiteIndex) List(ctx context.Context) ([]Artifact, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT version, filename, source, digest, exe_path, fetched_at
		FROM artifacts ORDER BY fetched_at DESC, version`)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		artifacts = append(artifacts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artifacts: %w", err)
	}
	return artifacts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (*Artifact, error) {
	var a Artifact
	var dgst, fetchedAt string
	if err := s.Scan(&a.Version, &a.Filename, &a.Source, &dgst, &a.ExePath, &fetchedAt); err != nil {
		return nil, err
	}
	a.Digest = digest.Digest(dgst)

	t, err := time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing fetched_at %q: %w", fetchedAt, err)
	}
	a.FetchedAt = t
	return &a, nil
}
