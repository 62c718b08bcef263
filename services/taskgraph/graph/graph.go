// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph validates proposed edges against a tenant's task
// dependency graph.
//
// A Graph maps each task id to the ordered list of task ids it depends on.
// An edge (From, To) means "From depends on To". Adding that edge closes a
// cycle exactly when To can already reach From by following depends-on
// edges, so the check is a single depth-first traversal starting at To.
//
// # Thread Safety
//
// All functions are pure. A Graph must not be mutated while another
// goroutine reads it; the engine builds a fresh Graph per validation.
package graph

import (
	"slices"
)

// DefaultMaxVisited caps how many distinct tasks one traversal may visit.
const DefaultMaxVisited = 10000

// Graph is an adjacency relation: task id -> ids it depends on, in order.
type Graph map[string][]string

// Edge is a proposed dependency: From depends on To.
type Edge struct {
	From string
	To   string
}

// Result is the outcome of a cycle check.
//
// When HasCycle is true, Path is the cycle as task ids, beginning and ending
// with the edge's From: [From, To, ..., From].
type Result struct {
	HasCycle bool
	Path     []string
	Visited  int
}

// Limits bounds the work done by a single cycle check.
type Limits struct {
	// MaxVisited is the maximum number of distinct tasks visited.
	// Zero means DefaultMaxVisited; negative disables the cap.
	MaxVisited int
}

func (l Limits) maxVisited() int {
	if l.MaxVisited == 0 {
		return DefaultMaxVisited
	}
	return l.MaxVisited
}

// FromEdges builds a Graph from (from, to) pairs, preserving pair order.
func FromEdges(edges []Edge) Graph {
	g := make(Graph)
	for _, e := range edges {
		g.AddEdge(e.From, e.To)
	}
	return g
}

// AddEdge appends to to from's dependency list if it is not already there.
func (g Graph) AddEdge(from, to string) {
	if slices.Contains(g[from], to) {
		return
	}
	g[from] = append(g[from], to)
}

// Replace sets from's full dependency list.
func (g Graph) Replace(from string, tos []string) {
	if len(tos) == 0 {
		delete(g, from)
		return
	}
	g[from] = slices.Clone(tos)
}

// Clone returns a deep copy of the graph.
func (g Graph) Clone() Graph {
	c := make(Graph, len(g))
	for k, v := range g {
		c[k] = slices.Clone(v)
	}
	return c
}

// EdgeCount returns the total number of edges.
func (g Graph) EdgeCount() int {
	n := 0
	for _, v := range g {
		n += len(v)
	}
	return n
}

// WouldCreateCycle reports whether adding e to g closes a cycle.
//
// Description:
//
//	Runs an iterative depth-first traversal from e.To along depends-on
//	edges. If the traversal reaches e.From, the returned path is
//	[e.From, e.To, ..., e.From]. Neighbors are explored in stored order so
//	the reported path is deterministic. Each task is expanded at most once,
//	so the traversal is O(V+E).
//
// Inputs:
//
//	g - The tenant's existing edges. Not modified.
//	e - The proposed edge.
//	limits - Traversal bounds.
//
// Outputs:
//
//	Result - HasCycle and, if true, the cycle path.
//	error - ErrSelfDependency for e.From == e.To, ErrEmptyID for blank ids,
//	        ErrTraversalLimit if the cap is exceeded.
func WouldCreateCycle(g Graph, e Edge, limits Limits) (Result, error) {
	if e.From == "" || e.To == "" {
		return Result{}, ErrEmptyID
	}
	if e.From == e.To {
		return Result{}, ErrSelfDependency
	}
	return search(g, e.From, e.To, limits.maxVisited())
}

// WouldCreateCycles checks replacing from's entire dependency set with tos.
//
// Description:
//
//	from's current edges are ignored, then each proposed target is checked
//	in order. Any cycle through from must leave from along one of the new
//	edges and return without passing from again, so checking targets one at
//	a time against the graph without from's old edges is complete. The
//	first cycle found is returned.
//
// Outputs:
//
//	Result - The first cycle found, or HasCycle=false.
//	error - ErrSelfDependency if tos contains from, ErrEmptyID for blank
//	        ids, ErrTraversalLimit if the traversals together exceed the
//	        cap. The cap covers the whole check, not each target.
func WouldCreateCycles(g Graph, from string, tos []string, limits Limits) (Result, error) {
	if from == "" {
		return Result{}, ErrEmptyID
	}
	for _, to := range tos {
		if to == "" {
			return Result{}, ErrEmptyID
		}
		if to == from {
			return Result{}, ErrSelfDependency
		}
	}

	base := g
	if _, ok := g[from]; ok {
		base = g.Clone()
		delete(base, from)
	}

	maxVisited := limits.maxVisited()
	total := 0
	for _, to := range tos {
		budget := maxVisited
		if maxVisited > 0 {
			budget = maxVisited - total
		}
		res, err := search(base, from, to, budget)
		total += res.Visited
		if err != nil {
			return Result{Visited: total}, err
		}
		if res.HasCycle {
			res.Visited = total
			return res, nil
		}
	}
	return Result{Visited: total}, nil
}

// FindCycle scans the whole graph for any existing cycle and returns one
// witness path, or nil. It is used to audit stored graphs; mutations are
// guarded by WouldCreateCycle so a healthy tenant never has one.
func FindCycle(g Graph) []string {
	const (
		white = iota
		gray
		black
	)

	color := make(map[string]int, len(g))
	parent := make(map[string]string, len(g))

	type frame struct {
		node string
		next int
	}

	nodes := make([]string, 0, len(g))
	for n := range g {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)

	for _, root := range nodes {
		if color[root] != white {
			continue
		}
		color[root] = gray
		stack := []frame{{node: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g[top.node]
			if top.next >= len(deps) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			v := deps[top.next]
			top.next++
			switch color[v] {
			case white:
				parent[v] = top.node
				color[v] = gray
				stack = append(stack, frame{node: v})
			case gray:
				// Back edge top.node -> v closes v ... top.node -> v.
				cycle := []string{v}
				for cur := top.node; cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				slices.Reverse(cycle[1:])
				return append(cycle, v)
			}
		}
	}
	return nil
}

// search walks depends-on edges from start looking for target, visiting at
// most maxVisited tasks. A negative maxVisited means no cap.
func search(g Graph, target, start string, maxVisited int) (Result, error) {
	parent := map[string]string{start: ""}
	stack := []string{start}
	visited := 0

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visited++
		if maxVisited >= 0 && visited > maxVisited {
			return Result{Visited: visited}, ErrTraversalLimit
		}

		deps := g[node]
		// Push in reverse so the first listed dependency is explored first.
		for i := len(deps) - 1; i >= 0; i-- {
			next := deps[i]
			if next == target {
				return Result{
					HasCycle: true,
					Path:     buildPath(parent, target, node),
					Visited:  visited,
				}, nil
			}
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = node
			stack = append(stack, next)
		}
	}
	return Result{Visited: visited}, nil
}

// buildPath returns [target, start, ..., last, target] by walking parent
// pointers back from last to the traversal root.
func buildPath(parent map[string]string, target, last string) []string {
	var rev []string
	for cur := last; cur != ""; cur = parent[cur] {
		rev = append(rev, cur)
	}
	path := make([]string, 0, len(rev)+2)
	path = append(path, target)
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return append(path, target)
}
