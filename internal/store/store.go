// Package store abstracts a hierarchical object store as a flat key/value
// namespace. "Folders" are nothing but key prefixes; the pipeline never
// assumes POSIX filesystem semantics, only list/read/write/move by key.
package store

import (
	"context"
	"path"
	"strings"
)

// Canonical pipeline areas inside a run root.
const (
	PrefixInput       = "input_invoices/"
	PrefixSorted      = "sorted_invoices/"
	PrefixUnknown     = "unknown/"
	PrefixExtracted   = "extracted/"
	PrefixGroundTruth = "ground_truth/"
	PrefixReports     = "reports/"
)

// marker is the zero-byte object written to make an empty "folder" visible.
const marker = ".keep"

// DocumentStore is the only storage surface the pipeline depends on.
type DocumentStore interface {
	// List returns the object keys under prefix, sorted lexicographically.
	// Folder markers are excluded.
	List(ctx context.Context, prefix string) ([]string, error)

	// Read returns the full payload for key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores payload at key, overwriting any prior object wholesale.
	Write(ctx context.Context, key string, payload []byte) error

	// Move relocates the object to newPrefix, keeping its base name, and
	// returns the new key. The source object is removed only after the
	// destination exists.
	Move(ctx context.Context, key, newPrefix string) (string, error)
}

// EnsureLayout seeds the canonical folder tree so operators can see where to
// drop inputs and ground truth.
func EnsureLayout(ctx context.Context, st DocumentStore) error {
	for _, p := range []string{
		PrefixInput, PrefixSorted, PrefixUnknown,
		PrefixExtracted, PrefixGroundTruth, PrefixReports,
	} {
		if err := st.Write(ctx, p+marker, nil); err != nil {
			return err
		}
	}
	return nil
}

// BaseName returns the final path element of a key.
func BaseName(key string) string {
	return path.Base(key)
}

// DocumentID is the document identity used across routing, extraction and
// evaluation: the base name without its extension.
func DocumentID(key string) string {
	base := BaseName(key)
	return strings.TrimSuffix(base, path.Ext(base))
}

// JoinPrefix normalizes prefix+base into a well-formed key.
func JoinPrefix(prefix, base string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + base
}

func isMarker(key string) bool {
	return key == "" || strings.HasSuffix(key, "/") || BaseName(key) == marker
}
