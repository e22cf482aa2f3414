// Package schema holds the header knowledge used by format detection and
// field auto-matching: per-vendor header dictionaries and per-collection
// header signatures. The defaults are embedded; a YAML file with the same
// shape can replace them.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var defaultProfiles []byte

// Vendor is one accounting package's export header dictionary.
type Vendor struct {
	Name    string            `yaml:"name"`
	Headers map[string]string `yaml:"headers"`

	index map[string]string
}

// CollectionSignature lists header terms typical of one target collection.
type CollectionSignature struct {
	Name      string   `yaml:"name"`
	Signature []string `yaml:"signature"`
}

// Profiles is the full header knowledge base. Slice order is significant:
// it breaks ties during vendor and collection scoring.
type Profiles struct {
	Vendors     []Vendor              `yaml:"vendors"`
	Collections []CollectionSignature `yaml:"collections"`
}

var (
	defaultOnce sync.Once
	defaultSet  *Profiles
)

// Default returns the embedded profiles.
func Default() *Profiles {
	defaultOnce.Do(func() {
		p, err := Parse(defaultProfiles)
		if err != nil {
			panic(fmt.Sprintf("embedded schema profiles: %v", err))
		}
		defaultSet = p
	})
	return defaultSet
}

// Load reads profiles from a YAML file. An empty path returns Default.
func Load(path string) (*Profiles, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema profiles: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML profiles.
func Parse(data []byte) (*Profiles, error) {
	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode schema profiles: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	for i := range p.Vendors {
		p.Vendors[i].buildIndex()
	}
	return &p, nil
}

func (p *Profiles) validate() error {
	var errs []string
	seen := make(map[string]bool)
	for i, v := range p.Vendors {
		name := strings.ToLower(strings.TrimSpace(v.Name))
		switch {
		case name == "":
			errs = append(errs, fmt.Sprintf("vendor %d has no name", i+1))
		case seen[name]:
			errs = append(errs, fmt.Sprintf("vendor %q declared twice", v.Name))
		case len(v.Headers) == 0:
			errs = append(errs, fmt.Sprintf("vendor %q has no headers", v.Name))
		}
		seen[name] = true
	}
	for i, c := range p.Collections {
		if c.Name == "" {
			errs = append(errs, fmt.Sprintf("collection signature %d has no name", i+1))
		}
		if len(c.Signature) == 0 {
			errs = append(errs, fmt.Sprintf("collection %q has an empty signature", c.Name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid schema profiles:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (v *Vendor) buildIndex() {
	v.index = make(map[string]string, len(v.Headers))
	for header, target := range v.Headers {
		v.index[Compact(header)] = target
	}
}

// Lookup returns the target field the vendor maps header to.
func (v *Vendor) Lookup(header string) (string, bool) {
	if v.index == nil {
		v.buildIndex()
	}
	target, ok := v.index[Compact(header)]
	return target, ok
}

// Overlap counts distinct headers the vendor dictionary recognises.
func (v *Vendor) Overlap(headers []string) int {
	seen := make(map[string]bool)
	n := 0
	for _, h := range headers {
		c := Compact(h)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		if _, ok := v.Lookup(h); ok {
			n++
		}
	}
	return n
}

// Vendor returns the named vendor dictionary.
func (p *Profiles) Vendor(name string) (*Vendor, bool) {
	for i := range p.Vendors {
		if strings.EqualFold(p.Vendors[i].Name, name) {
			return &p.Vendors[i], true
		}
	}
	return nil, false
}

// VendorNames lists vendors in priority order.
func (p *Profiles) VendorNames() []string {
	names := make([]string, len(p.Vendors))
	for i, v := range p.Vendors {
		names[i] = v.Name
	}
	return names
}
