// Package ollama finds the GGUF blob behind a locally pulled Ollama model
// name such as "llama3" or "library/qwen2:0.5b".
package ollama

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

const (
	DefaultRegistry  = "registry.ollama.ai"
	DefaultNamespace = "library"
	DefaultTag       = "latest"
	MediaTypeModel   = "application/vnd.ollama.image.model"
)

var ErrNotFound = errors.New("ollama model not found")

type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	Layers        []Layer `json:"layers"`
}

type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// Resolver looks models up under an Ollama models directory.
type Resolver struct {
	Dir string
}

// NewResolver uses $OLLAMA_MODELS, falling back to ~/.ollama/models.
func NewResolver() (*Resolver, error) {
	if env := os.Getenv("OLLAMA_MODELS"); env != "" {
		return &Resolver{Dir: env}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Resolver{Dir: filepath.Join(home, ".ollama", "models")}, nil
}

// Ref is a parsed model reference.
type Ref struct {
	Registry  string
	Namespace string
	Name      string
	Tag       string
}

// ParseRef splits [registry/][namespace/]name[:tag], filling in defaults.
func ParseRef(s string) (Ref, error) {
	ref := Ref{Registry: DefaultRegistry, Namespace: DefaultNamespace, Tag: DefaultTag}
	if s == "" {
		return ref, fmt.Errorf("empty model name")
	}
	if i := strings.LastIndex(s, ":"); i > strings.LastIndex(s, "/") {
		ref.Tag = s[i+1:]
		s = s[:i]
	}
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		ref.Name = parts[0]
	case 2:
		ref.Namespace, ref.Name = parts[0], parts[1]
	case 3:
		ref.Registry, ref.Namespace, ref.Name = parts[0], parts[1], parts[2]
	default:
		return ref, fmt.Errorf("invalid model name %q", s)
	}
	for _, p := range []string{ref.Registry, ref.Namespace, ref.Name, ref.Tag} {
		if p == "" || p == "." || p == ".." {
			return ref, fmt.Errorf("invalid model name %q", s)
		}
	}
	return ref, nil
}

func (r Ref) String() string {
	return r.Registry + "/" + r.Namespace + "/" + r.Name + ":" + r.Tag
}

// Resolve returns the path of the model layer blob for name.
func (r *Resolver) Resolve(name string) (string, error) {
	ref, err := ParseRef(name)
	if err != nil {
		return "", err
	}
	manifestPath := filepath.Join(r.Dir, "manifests", ref.Registry, ref.Namespace, ref.Name, ref.Tag)
	data, err := os.ReadFile(manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: no manifest for %s", ErrNotFound, ref)
	}
	if err != nil {
		return "", err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("manifest %s: %w", manifestPath, err)
	}
	var digest string
	for _, l := range m.Layers {
		if l.MediaType == MediaTypeModel {
			digest = l.Digest
			break
		}
	}
	if digest == "" {
		return "", fmt.Errorf("manifest %s has no model layer", manifestPath)
	}

	// blobs are stored as sha256-<hex> for digest sha256:<hex>
	blobPath := filepath.Join(r.Dir, "blobs", strings.Replace(digest, ":", "-", 1))
	if _, err := os.Stat(blobPath); err != nil {
		return "", fmt.Errorf("%w: blob %s for %s", ErrNotFound, blobPath, ref)
	}
	return blobPath, nil
}
