// Package assetkey builds the object keys that serve as MediaStore asset ids.
package assetkey

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator defines the interface for asset key generation strategies
type Generator interface {
	// GenerateKey creates a key under namespace for a blob named fileName
	GenerateKey(namespace, fileName string) string
}

// TimestampGenerator produces readable keys:
// categories/category_1700000000000_shoes_1a2b3c4d.png
type TimestampGenerator struct {
	Now   func() time.Time
	NewID func() uuid.UUID
}

func NewTimestampGenerator() *TimestampGenerator {
	return &TimestampGenerator{
		Now:   time.Now,
		NewID: uuid.New,
	}
}

func (g *TimestampGenerator) GenerateKey(namespace, fileName string) string {
	stem, ext := splitName(fileName)
	suffix := strings.ReplaceAll(g.NewID().String(), "-", "")[:8]

	name := fmt.Sprintf("%s_%d", Singular(namespace), g.Now().UnixMilli())
	if stem != "" {
		name += "_" + stem
	}
	return path.Join(sanitizePathComponent(namespace), name+"_"+suffix+ext)
}

// ShardedGenerator spreads keys over two-level directories the way git
// stores objects: products/objects/ab/cd1234ef5678..._photo.jpg
type ShardedGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
	NewID       func() uuid.UUID
}

func NewShardedGenerator() *ShardedGenerator {
	return &ShardedGenerator{
		ShardLength: 2,
		NewID:       uuid.New,
	}
}

func (g *ShardedGenerator) GenerateKey(namespace, fileName string) string {
	id := strings.ReplaceAll(g.NewID().String(), "-", "")

	shard := g.ShardLength
	if shard <= 0 || shard >= len(id) {
		shard = 2
	}

	filename := id[shard:]
	if fileName != "" {
		filename = fmt.Sprintf("%s_%s", filename, sanitizeFilename(path.Base(fileName)))
	}
	return path.Join(sanitizePathComponent(namespace), "objects", id[:shard], filename)
}

// ByName returns the generator registered under name: "timestamp" (the
// default, also for "") or "sharded"
func ByName(name string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "timestamp":
		return NewTimestampGenerator(), nil
	case "sharded":
		return NewShardedGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown key generator: %s", name)
	}
}

// Singular returns the singular form of a namespace used as a key prefix
func Singular(namespace string) string {
	ns := strings.ToLower(path.Base(namespace))
	switch {
	case strings.HasSuffix(ns, "ies"):
		return strings.TrimSuffix(ns, "ies") + "y"
	case strings.HasSuffix(ns, "s"):
		return strings.TrimSuffix(ns, "s")
	default:
		return ns
	}
}

// splitName returns the sanitized stem and the lower-cased extension
func splitName(fileName string) (string, string) {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" {
		return "", ""
	}
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return sanitizeFilename(stem), strings.ToLower(ext)
}

func sanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(filename)
}

func sanitizePathComponent(component string) string {
	return strings.ToLower(sanitizeFilename(component))
}

// NewDefaultGenerator returns the generator used when none is configured
func NewDefaultGenerator() Generator {
	return NewTimestampGenerator()
}
