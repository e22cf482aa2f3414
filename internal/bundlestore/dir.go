package bundlestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/core"
)

// DirStore keeps bundles as files in one directory.
type DirStore struct {
	root string
}

// NewDirStore creates the directory if needed.
func NewDirStore(root string) (*DirStore, error) {
	if root == "" {
		return nil, errors.New("bundle directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create bundle directory: %w", err)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) path(name string) string {
	return filepath.Join(s.root, name+extension)
}

// Save writes the bundle through a temp file so readers never see a
// partial file.
func (s *DirStore) Save(ctx context.Context, name string, data []byte) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	name, err := normalizeName(name)
	if err != nil {
		return Info{}, err
	}

	tmp, err := os.CreateTemp(s.root, "."+name+"-*")
	if err != nil {
		return Info{}, fmt.Errorf("save bundle %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Info{}, fmt.Errorf("save bundle %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return Info{}, fmt.Errorf("save bundle %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return Info{}, fmt.Errorf("save bundle %s: %w", name, err)
	}

	st, err := os.Stat(s.path(name))
	if err != nil {
		return Info{}, fmt.Errorf("save bundle %s: %w", name, err)
	}
	return Info{Name: name, Size: st.Size(), ModifiedAt: st.ModTime().UTC()}, nil
}

// Load reads a bundle.
func (s *DirStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: bundle %s", core.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", name, err)
	}
	return data, nil
}

// List returns stored bundles, newest first.
func (s *DirStore) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}

	var out []Info
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, extension) {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:       strings.TrimSuffix(n, extension),
			Size:       st.Size(),
			ModifiedAt: st.ModTime().UTC(),
		})
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].ModifiedAt.Equal(infos[j].ModifiedAt) {
			return infos[i].ModifiedAt.After(infos[j].ModifiedAt)
		}
		return infos[i].Name > infos[j].Name
	})
}
