package service

import (
	"fmt"
	"strings"

	"github.com/choraleia/shellfs/pkg/service/fs"
)

// FSRegistry hands out a resolver per file backend. Requests may pick a
// backend explicitly; the configured one is used otherwise.
type FSRegistry struct {
	def       fs.Backend
	resolvers map[fs.Backend]*fs.Resolver
}

// NewFSRegistry derives the per-backend resolvers from the runtime's. With a
// remote shell only the shell backend is offered, since direct access would
// reach the local host instead.
func NewFSRegistry(rt *Runtime) (*FSRegistry, error) {
	r := &FSRegistry{
		def:       rt.Resolver.Backend(),
		resolvers: map[fs.Backend]*fs.Resolver{rt.Resolver.Backend(): rt.Resolver},
	}
	backends := []fs.Backend{fs.BackendShell}
	if rt.sshClient == nil {
		backends = append(backends, fs.BackendDirect, fs.BackendAuto)
	}
	for _, b := range backends {
		if _, ok := r.resolvers[b]; ok {
			continue
		}
		res, err := fs.NewResolver(b, rt.ShellFS, rt.Logger.With("component", "fs"))
		if err != nil {
			return nil, err
		}
		r.resolvers[b] = res
	}
	return r, nil
}

// Default returns the configured backend.
func (r *FSRegistry) Default() fs.Backend { return r.def }

// Open returns the resolver for b; the empty backend selects the default.
func (r *FSRegistry) Open(b fs.Backend) (*fs.Resolver, error) {
	if b == "" {
		b = r.def
	}
	res, ok := r.resolvers[b]
	if !ok {
		return nil, fmt.Errorf("file backend %q is not available", b)
	}
	return res, nil
}

// ValidateBackendForHTTP parses a backend query value. Empty means default.
func ValidateBackendForHTTP(s string) (fs.Backend, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	return fs.ParseBackend(s)
}
