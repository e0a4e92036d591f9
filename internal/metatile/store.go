package metatile

import (
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"modtile/internal/tile"
)

// Store 元瓦片存储, 按路径缓存最近读取的元瓦片.
// Concurrent fetches of the same file share one read.
type Store struct {
	root  string
	cache *lru.Cache[string, *MetaTile]
	group singleflight.Group
	log   logrus.FieldLogger
}

// NewStore creates a store rooted at root caching up to size meta-tiles.
// A size of zero disables caching.
func NewStore(root string, size int, log logrus.FieldLogger) (*Store, error) {
	s := &Store{root: root, log: log.WithField("component", "metatile")}
	if size > 0 {
		cache, err := lru.NewWithEvict[string, *MetaTile](size, func(path string, _ *MetaTile) {
			s.log.Debugf("evicted %s", path)
		})
		if err != nil {
			return nil, fmt.Errorf("create meta-tile cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the file holding id.
func (s *Store) Path(id tile.Identity) string {
	return PathFor(s.root, id)
}

// Fetch returns the meta-tile holding id, reading it from disk on a cache miss.
func (s *Store) Fetch(id tile.Identity, mediaType string) (*MetaTile, error) {
	path := s.Path(id)
	if s.cache != nil {
		if mt, ok := s.cache.Get(path); ok && mt.MediaType == mediaType {
			if unchanged(path, mt) {
				return mt, nil
			}
			s.log.Debugf("%s changed on disk, reloading", path)
			s.cache.Remove(path)
		}
	}

	v, err, shared := s.group.Do(path, func() (interface{}, error) {
		mt, err := Read(path, mediaType)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Add(path, mt)
		}
		return mt, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.Debugf("shared read of %s", path)
	}
	return v.(*MetaTile), nil
}

// unchanged reports whether the file at path is still the one mt was read
// from. renderd replaces meta-tiles in place when it re-renders them.
func unchanged(path string, mt *MetaTile) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.ModTime().Equal(mt.ModTime()) && info.Size() == int64(mt.Len())
}

// Invalidate drops the cached meta-tile holding id, e.g. after a re-render.
func (s *Store) Invalidate(id tile.Identity) {
	if s.cache != nil {
		s.cache.Remove(s.Path(id))
	}
}

// Cached returns the number of meta-tiles currently cached.
func (s *Store) Cached() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Len()
}
