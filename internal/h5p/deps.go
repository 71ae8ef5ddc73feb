package h5p

import (
	"context"

	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// ResolveDependencies returns roots and everything they preload, ordered so
// each library comes after all of its dependencies. Cycles are broken at the
// first revisit. withEditor also follows editorDependencies of the roots.
func ResolveDependencies(ctx context.Context, store LibraryStorage, roots []LibraryName, withEditor bool) ([]Library, error) {
	r := resolver{
		ctx:   ctx,
		store: store,
		state: make(map[string]visitState),
	}
	for _, n := range roots {
		if err := r.visit(n, withEditor); err != nil {
			return nil, err
		}
	}
	return r.order, nil
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

type resolver struct {
	ctx   context.Context
	store LibraryStorage
	state map[string]visitState
	order []Library
}

func (r *resolver) visit(n LibraryName, withEditor bool) error {
	key := n.String()
	if r.state[key] != unvisited {
		return nil
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}
	r.state[key] = visiting

	lib, err := r.store.Library(r.ctx, n)
	if err != nil {
		if xerrors.IsNotFound(err) {
			return xerrors.WithKind(xerrors.Wrapf(err, "missing dependency %s", key), xerrors.KindNotFound)
		}
		return xerrors.Wrapf(err, "load library %s", key)
	}

	for _, dep := range lib.PreloadedDependencies {
		if err := r.visit(dep, false); err != nil {
			return err
		}
	}
	if withEditor {
		for _, dep := range lib.EditorDependencies {
			if err := r.visit(dep, false); err != nil {
				return err
			}
		}
	}

	r.state[key] = visited
	r.order = append(r.order, lib)
	return nil
}
