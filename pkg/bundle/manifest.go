package bundle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Record describes one bundle of a build.
type Record struct {
	Name         string   `yaml:"name" json:"name"`
	Hash         string   `yaml:"hash" json:"hash"`
	CRC          uint32   `yaml:"crc,omitempty" json:"crc,omitempty"`
	Size         int64    `yaml:"size,omitempty" json:"size,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Assets       []string `yaml:"assets,omitempty" json:"assets,omitempty"`
}

// CycleError reports bundles whose dependencies form a cycle.
type CycleError struct {
	// Bundles lists the bundles left unresolved by the topological
	// sort, in manifest order.
	Bundles []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle between bundles: %s", strings.Join(e.Bundles, ", "))
}

// Index is the immutable bundle lookup of one build. Every dependency
// resolves to a record and the dependency graph is acyclic.
type Index struct {
	records map[string]Record
	names   []string
	owners  map[string]string
	order   []string
}

// NewIndex validates records and builds an Index from them.
func NewIndex(records ...Record) (*Index, error) {
	idx := &Index{
		records: make(map[string]Record, len(records)),
		names:   make([]string, 0, len(records)),
		owners:  make(map[string]string),
	}
	var result *multierror.Error
	for _, r := range records {
		if r.Name == "" {
			result = multierror.Append(result, ErrEmptyBundleName)
			continue
		}
		if _, ok := idx.records[r.Name]; ok {
			result = multierror.Append(result, fmt.Errorf("%w: %s", ErrDuplicateBundle, r.Name))
			continue
		}
		r.Dependencies = append([]string(nil), r.Dependencies...)
		r.Assets = append([]string(nil), r.Assets...)
		idx.records[r.Name] = r
		idx.names = append(idx.names, r.Name)
		for _, a := range r.Assets {
			if _, ok := idx.owners[a]; !ok {
				idx.owners[a] = r.Name
			}
		}
	}
	for _, name := range idx.names {
		for _, dep := range idx.records[name].Dependencies {
			if _, ok := idx.records[dep]; !ok {
				result = multierror.Append(result, fmt.Errorf("%w: %s -> %s", ErrUnknownDependency, name, dep))
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	order, err := idx.topoSort()
	if err != nil {
		return nil, err
	}
	idx.order = order
	return idx, nil
}

// topoSort orders bundles so that every dependency precedes its
// dependents (Kahn's algorithm).
func (idx *Index) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(idx.names))
	dependents := make(map[string][]string, len(idx.names))
	for _, name := range idx.names {
		deps := idx.records[name].Dependencies
		inDegree[name] += len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}
	queue := make([]string, 0, len(idx.names))
	for _, name := range idx.names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	order := make([]string, 0, len(idx.names))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, d := range dependents[name] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if len(order) != len(idx.names) {
		var cycle []string
		for _, name := range idx.names {
			if inDegree[name] > 0 {
				cycle = append(cycle, name)
			}
		}
		return nil, &CycleError{Bundles: cycle}
	}
	return order, nil
}

// Lookup returns the record of a bundle.
func (idx *Index) Lookup(name string) (Record, bool) {
	r, ok := idx.records[name]
	return r, ok
}

// Names returns bundle names in manifest order.
func (idx *Index) Names() []string {
	return append([]string(nil), idx.names...)
}

// Len returns the number of bundles.
func (idx *Index) Len() int {
	return len(idx.names)
}

// TopologicalOrder returns every bundle after all of its dependencies.
func (idx *Index) TopologicalOrder() []string {
	return append([]string(nil), idx.order...)
}

// OwnerOf returns the bundle whose record lists asset.
func (idx *Index) OwnerOf(asset string) (string, bool) {
	b, ok := idx.owners[asset]
	return b, ok
}

// ResolutionOrder returns the bundles a request for name touches, in the
// order the Manager resolves them: dependencies depth-first in manifest
// order, each bundle once, name last.
func (idx *Index) ResolutionOrder(name string) ([]string, error) {
	if _, ok := idx.records[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, name)
	}
	var order []string
	seen := make(map[string]bool)
	var visit func(n string)
	visit = func(n string) {
		for _, dep := range idx.records[n].Dependencies {
			visit(dep)
		}
		if !seen[n] {
			seen[n] = true
			order = append(order, n)
		}
	}
	visit(name)
	return order, nil
}

// TotalSize sums the sizes of every bundle in the index.
func (idx *Index) TotalSize() int64 {
	var total int64
	for _, r := range idx.records {
		total += r.Size
	}
	return total
}

type indexDocument struct {
	Bundles []Record `yaml:"bundles"`
}

// ParseRecords decodes a manifest or collection document. Documents are
// YAML, so JSON is accepted as well.
func ParseRecords(data []byte) ([]Record, error) {
	var doc indexDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return doc.Bundles, nil
}

// MarshalRecords encodes records as a manifest document.
func MarshalRecords(records []Record) ([]byte, error) {
	return yaml.Marshal(indexDocument{Bundles: records})
}

// MergeCollection fills CRC, Size and Assets of manifest records from
// the bundle-info collection. Fields already set in the manifest win.
// Collection entries for unknown bundles are ignored.
func MergeCollection(manifest, collection []Record) []Record {
	info := make(map[string]Record, len(collection))
	for _, c := range collection {
		info[c.Name] = c
	}
	out := make([]Record, len(manifest))
	for i, r := range manifest {
		if c, ok := info[r.Name]; ok {
			if r.CRC == 0 {
				r.CRC = c.CRC
			}
			if r.Size == 0 {
				r.Size = c.Size
			}
			if len(r.Assets) == 0 {
				r.Assets = c.Assets
			}
			if r.Hash == "" {
				r.Hash = c.Hash
			}
		}
		out[i] = r
	}
	return out
}

// ParseIndex builds an Index from a manifest document and an optional
// collection document.
func ParseIndex(manifest, collection []byte) (*Index, error) {
	records, err := ParseRecords(manifest)
	if err != nil {
		return nil, err
	}
	if len(collection) > 0 {
		info, err := ParseRecords(collection)
		if err != nil {
			return nil, fmt.Errorf("collection: %w", err)
		}
		records = MergeCollection(records, info)
	}
	return NewIndex(records...)
}

// sortedKeys is used for deterministic diagnostics.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
