// Package seeds loads seed manifests and expands feed seeds.
package seeds

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/sources"
)

// Manifest maps platforms to their seed lists, in file order.
//
//	platforms:
//	  airbnb:
//	    - https://www.airbnb.com/help/article/149
//	    - {kind: category, value: "https://www.airbnb.com/help/topic/1"}
//	  reddit:
//	    - {kind: feed, value: "https://www.reddit.com/r/AirBnB/.rss"}
type Manifest struct {
	seeds map[crawler.Platform][]sources.Seed
}

type file struct {
	Platforms map[string][]entry `yaml:"platforms"`
}

// entry accepts either a bare URL string or a {kind, value} mapping.
type entry sources.Seed

func (e *entry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*e = entry{Kind: sources.SeedURL, Value: strings.TrimSpace(node.Value)}
		return nil
	}
	var s struct {
		Kind  string `yaml:"kind"`
		Value string `yaml:"value"`
	}
	if err := node.Decode(&s); err != nil {
		return err
	}
	kind := sources.SeedKind(strings.ToLower(strings.TrimSpace(s.Kind)))
	if kind == "" {
		kind = sources.SeedURL
	}
	*e = entry{Kind: kind, Value: strings.TrimSpace(s.Value)}
	return nil
}

// Load reads a manifest file.
func Load(path string) (*Manifest, error) {
	// #nosec G304 -- the manifest path is operator supplied.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seeds %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a manifest. Platforms must sit under the
// platforms root key; any other top-level key is rejected.
func Parse(data []byte) (*Manifest, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("decode seeds: manifest is empty")
		}
		return nil, fmt.Errorf("decode seeds: %w", err)
	}
	if f.Platforms == nil {
		return nil, errors.New("decode seeds: missing platforms root key")
	}
	m := &Manifest{seeds: make(map[crawler.Platform][]sources.Seed)}
	for name, entries := range f.Platforms {
		platform, ok := crawler.ParsePlatform(name)
		if !ok {
			return nil, fmt.Errorf("seeds: unknown platform %q", name)
		}
		for i, e := range entries {
			seed := sources.Seed(e)
			if err := Validate(seed); err != nil {
				return nil, fmt.Errorf("seeds.%s[%d]: %w", name, i, err)
			}
			m.seeds[platform] = append(m.seeds[platform], seed)
		}
	}
	return m, nil
}

// Validate checks a seed's kind and value.
func Validate(seed sources.Seed) error {
	switch seed.Kind {
	case sources.SeedURL, sources.SeedCategory, sources.SeedQuery, sources.SeedFeed:
	default:
		return fmt.Errorf("unknown seed kind %q", seed.Kind)
	}
	if seed.Value == "" {
		return fmt.Errorf("%s seed has no value", seed.Kind)
	}
	if seed.Kind == sources.SeedURL || seed.Kind == sources.SeedFeed {
		if _, err := crawler.NormalizeURL(seed.Value); err != nil {
			return err
		}
	}
	return nil
}

// For returns the seeds listed for platform. A nil manifest lists none.
func (m *Manifest) For(p crawler.Platform) []sources.Seed {
	if m == nil {
		return nil
	}
	return append([]sources.Seed(nil), m.seeds[p]...)
}

// Platforms lists platforms with at least one seed, in name order.
func (m *Manifest) Platforms() []crawler.Platform {
	if m == nil {
		return nil
	}
	out := make([]crawler.Platform, 0, len(m.seeds))
	for p := range m.seeds {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
