/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/suparena/entitystate/storagemodels"
)

// Endpoint describes where the records of one entity type live remotely.
type Endpoint struct {
	// Key is the entity type key, e.g. "taskTags".
	Key string `yaml:"key" json:"key"`
	// Path is the collection path, e.g. "/task-tags". Defaults to "/<key>".
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// IndexMap holds key templates for single-table backends, e.g.
	// {"PK": "TAG#{id}", "SK": "TAG#{id}"}. Defaults to "<key>#{id}" for both.
	IndexMap map[string]string `yaml:"indexMap,omitempty" json:"indexMap,omitempty"`
}

// Endpoints maps entity type keys to their Endpoint. It is safe for
// concurrent use. Resolve is total: unregistered keys get a default endpoint.
type Endpoints struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
	byPath    map[string]string
}

// NewEndpoints creates an empty registry.
func NewEndpoints() *Endpoints {
	return &Endpoints{
		endpoints: make(map[string]Endpoint),
		byPath:    make(map[string]string),
	}
}

// Register adds an endpoint definition. A key or path can be registered once.
func (r *Endpoints) Register(ep Endpoint) error {
	if strings.TrimSpace(ep.Key) == "" {
		return fmt.Errorf("endpoint key is required")
	}
	ep = withDefaults(ep)
	if !strings.HasPrefix(ep.Path, "/") {
		return fmt.Errorf("endpoint %q: path %q must start with /", ep.Key, ep.Path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.endpoints[ep.Key]; exists {
		return fmt.Errorf("endpoint with key %q already registered", ep.Key)
	}
	if owner, exists := r.byPath[ep.Path]; exists {
		return fmt.Errorf("endpoint path %q already used by %q", ep.Path, owner)
	}
	r.endpoints[ep.Key] = ep
	r.byPath[ep.Path] = ep.Key
	return nil
}

// Resolve returns the endpoint for key, or the default endpoint when none was registered.
func (r *Endpoints) Resolve(key string) Endpoint {
	if r != nil {
		r.mu.RLock()
		ep, ok := r.endpoints[key]
		r.mu.RUnlock()
		if ok {
			return ep
		}
	}
	return withDefaults(Endpoint{Key: key})
}

// Keys returns the registered keys in sorted order.
func (r *Endpoints) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.endpoints))
	for k := range r.endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CollectionPath returns the list/create path for key.
func (r *Endpoints) CollectionPath(key string) string {
	return r.Resolve(key).Path
}

// ItemPath returns the update/delete path for one record of key.
func (r *Endpoints) ItemPath(key string, id storagemodels.ID) string {
	return r.Resolve(key).Path + "/" + url.PathEscape(id.String())
}

// ParsePath maps a collection or item path back to its entity type key and,
// for item paths, the record id.
func (r *Endpoints) ParsePath(path string) (key string, id storagemodels.ID, isItem bool, err error) {
	clean := "/" + strings.Trim(path, "/")
	if clean == "/" {
		return "", "", false, fmt.Errorf("path %q names no entity type", path)
	}

	if r != nil {
		r.mu.RLock()
		key, ok := r.byPath[clean]
		var parentKey string
		var parentOK bool
		idx := strings.LastIndex(clean, "/")
		if !ok && idx > 0 {
			parentKey, parentOK = r.byPath[clean[:idx]]
		}
		r.mu.RUnlock()

		if ok {
			return key, "", false, nil
		}
		if parentOK {
			id, err := unescapeID(clean[idx+1:])
			if err != nil {
				return "", "", false, err
			}
			return parentKey, id, true, nil
		}
	}

	segments := strings.Split(strings.Trim(clean, "/"), "/")
	switch len(segments) {
	case 1:
		return segments[0], "", false, nil
	case 2:
		id, err := unescapeID(segments[1])
		if err != nil {
			return "", "", false, err
		}
		return segments[0], id, true, nil
	default:
		return "", "", false, fmt.Errorf("path %q does not match any endpoint", path)
	}
}

func unescapeID(segment string) (storagemodels.ID, error) {
	raw, err := url.PathUnescape(segment)
	if err != nil {
		return "", fmt.Errorf("invalid id segment %q: %w", segment, err)
	}
	return storagemodels.ParseID(raw)
}

func withDefaults(ep Endpoint) Endpoint {
	if ep.Path == "" {
		ep.Path = "/" + ep.Key
	}
	ep.Path = "/" + strings.Trim(ep.Path, "/")
	if len(ep.IndexMap) == 0 {
		ep.IndexMap = map[string]string{
			"PK": ep.Key + "#{id}",
			"SK": ep.Key + "#{id}",
		}
	}
	return ep
}
