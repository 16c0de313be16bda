// Package mapping translates raw rows of heterogeneous source files into
// canonical catalog records. Formats are declarative tables loaded from YAML;
// the format of an upload is detected from its header signature.
package mapping

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
	"gopkg.in/yaml.v3"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

//go:embed formats.yaml
var builtinFormats []byte

// IndexedSpec describes a repeated sub-entity spread across numbered columns
// such as "Writer 1", "Writer 1 %", "Writer 2".
type IndexedSpec struct {
	Max    int                 `yaml:"max"`
	Fields map[string][]string `yaml:"fields"`
}

// Format is one declarative mapping table.
type Format struct {
	ID               catalog.FormatID       `yaml:"id"`
	Name             string                 `yaml:"name"`
	Kind             catalog.Kind           `yaml:"kind"`
	Default          bool                   `yaml:"default"`
	Signature        []string               `yaml:"signature"`
	MinSignatureHits int                    `yaml:"min_signature_hits"`
	Required         []string               `yaml:"required"`
	Defaults         map[string]string      `yaml:"defaults"`
	Fields           map[string][]string    `yaml:"fields"`
	Indexed          map[string]IndexedSpec `yaml:"indexed"`
}

type formatFile struct {
	Formats []Format `yaml:"formats"`
}

// Registry holds the known formats and a single Aho-Corasick automaton over
// every signature term, so detection is one pass over the header text.
type Registry struct {
	mu       sync.RWMutex
	formats  []Format
	matcher  *ahocorasick.Matcher
	terms    []string
	owners   [][]int
	fallback catalog.FormatID
}

// NewRegistry creates a registry preloaded with the built-in formats.
func NewRegistry() (*Registry, error) {
	r := &Registry{}
	if err := r.Load(builtinFormats); err != nil {
		return nil, fmt.Errorf("load built-in formats: %w", err)
	}
	return r, nil
}

// Load parses YAML format definitions. A format whose id is already known
// replaces the existing definition.
func (r *Registry) Load(data []byte) error {
	var file formatFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse formats: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range file.Formats {
		if err := validateFormat(f); err != nil {
			return err
		}
		f.Fields = lowerSynonyms(f.Fields)
		for group, spec := range f.Indexed {
			spec.Fields = lowerSynonyms(spec.Fields)
			f.Indexed[group] = spec
		}
		if i := r.indexOf(f.ID); i >= 0 {
			r.formats[i] = f
		} else {
			r.formats = append(r.formats, f)
		}
		if f.Default {
			r.fallback = f.ID
		}
	}
	if r.fallback == "" && len(r.formats) > 0 {
		r.fallback = r.formats[0].ID
	}
	r.build()
	return nil
}

func validateFormat(f Format) error {
	if f.ID == "" {
		return fmt.Errorf("format without id")
	}
	switch f.Kind {
	case catalog.KindWork, catalog.KindContract, catalog.KindRoyalty:
	default:
		return fmt.Errorf("format %s: unknown kind %q", f.ID, f.Kind)
	}
	if len(f.Fields["title"]) == 0 {
		return fmt.Errorf("format %s: title has no source names", f.ID)
	}
	for name := range f.Fields {
		if !isScalarField(name) {
			return fmt.Errorf("format %s: unknown canonical field %q", f.ID, name)
		}
	}
	for group := range f.Indexed {
		if group != GroupWriters && group != GroupPublishers {
			return fmt.Errorf("format %s: unknown indexed group %q", f.ID, group)
		}
	}
	return nil
}

func lowerSynonyms(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, names := range in {
		lowered := make([]string, len(names))
		for i, n := range names {
			lowered[i] = normalizeHeader(n)
		}
		out[k] = lowered
	}
	return out
}

// build rebuilds the signature automaton. Caller holds the write lock.
func (r *Registry) build() {
	r.terms = nil
	r.owners = nil
	termIndex := map[string]int{}
	for fi, f := range r.formats {
		for _, sig := range f.Signature {
			term := "|" + normalizeHeader(sig) + "|"
			idx, ok := termIndex[term]
			if !ok {
				idx = len(r.terms)
				termIndex[term] = idx
				r.terms = append(r.terms, term)
				r.owners = append(r.owners, nil)
			}
			r.owners[idx] = append(r.owners[idx], fi)
		}
	}
	if len(r.terms) == 0 {
		r.matcher = nil
		return
	}
	r.matcher = ahocorasick.NewStringMatcher(r.terms)
}

func (r *Registry) indexOf(id catalog.FormatID) int {
	for i, f := range r.formats {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// Format returns the format with the given id.
func (r *Registry) Format(id catalog.FormatID) (Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(id); i >= 0 {
		return r.formats[i], true
	}
	return Format{}, false
}

// Formats lists the registered formats in declaration order.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.formats)
}

// Default is the format used when no signature matches.
func (r *Registry) Default() catalog.FormatID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// DetectFormat compares the header set against every signature and returns
// the format with the best coverage, or the default format.
func (r *Registry) DetectFormat(headers []string) catalog.FormatID {
	// Matcher.Match mutates internal counters, so detection takes the write lock.
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.matcher == nil {
		return r.fallback
	}

	normalized := make([]string, 0, len(headers))
	for _, h := range headers {
		normalized = append(normalized, normalizeHeader(h))
	}
	text := "|" + strings.Join(normalized, "|") + "|"

	hits := make([]int, len(r.formats))
	for _, term := range r.matcher.Match([]byte(text)) {
		for _, fi := range r.owners[term] {
			hits[fi]++
		}
	}

	best, bestRatio := -1, 0.0
	for fi, f := range r.formats {
		if len(f.Signature) == 0 {
			continue
		}
		need := f.MinSignatureHits
		if need <= 0 {
			need = len(f.Signature)
		}
		if hits[fi] < need {
			continue
		}
		ratio := float64(hits[fi]) / float64(len(f.Signature))
		if best == -1 || ratio > bestRatio {
			best, bestRatio = fi, ratio
		}
	}
	if best == -1 {
		return r.fallback
	}
	return r.formats[best].ID
}

// normalizeHeader lowercases and collapses whitespace so headers compare
// regardless of spacing and case.
func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}
