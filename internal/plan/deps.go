package plan

import "path/filepath"

// resolveDependencies walks wp.Steps in order, inserting a MKDIR of the
// parent directory ahead of any write whose parent no earlier step has
// written or prepared, then eliminates redundant operations. Only MKDIR
// prerequisites are inserted, never TOUCH, and the filesystem is not
// consulted: a directory that already exists before execution still gets
// a MKDIR. Skipped steps
// (When evaluated false) pass through untouched and do not affect the
// known-paths tracking, since they will never actually run.
func resolveDependencies(wp *WorkflowPlan) {
	wp.Steps = dropNoopSteps(wp.Steps)

	known := make(map[string]bool)
	var out []Step

	for _, s := range wp.Steps {
		if s.State == StateSkipped {
			out = append(out, s)
			continue
		}

		for _, writeArg := range manifests[s.Kind].writes {
			path := s.Args[writeArg]
			if path == "" {
				continue
			}
			dir := path
			if !isDirLike(path) || s.Kind != KindMkdir {
				dir = filepath.Dir(path)
			}
			if dir != "" && dir != "." && dir != "/" && !known[dir] {
				prep := Step{
					Kind:        KindMkdir,
					Args:        map[string]string{"path": dir},
					State:       StateReady,
					Description: "ensure parent directory exists",
				}
				out = append(out, prep)
				known[dir] = true
				wp.PreparedPaths = append(wp.PreparedPaths, dir)
			}
			known[path] = true
		}
		out = append(out, s)
	}

	wp.Steps = eliminateRedundant(out)
}

// dropNoopSteps removes steps that are no-ops before dependency insertion
// runs, so a self-copy never triggers an otherwise-unneeded MKDIR for its
// own destination directory.
func dropNoopSteps(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		if (s.Kind == KindCopy || s.Kind == KindMove) && s.Args["src"] != "" && s.Args["src"] == s.Args["dst"] {
			continue
		}
		out = append(out, s)
	}
	return out
}

// eliminateRedundant collapses consecutive MKDIRs of the same path, and
// fuses a REMOVE immediately followed by a MKDIR of the same path into a
// single MKDIR (recreate is equivalent to ensure). Runs after dependency
// insertion, since insertion itself can introduce these redundancies.
func eliminateRedundant(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		switch s.Kind {
		case KindMkdir:
			if n := len(out); n > 0 && out[n-1].Kind == KindMkdir && out[n-1].Args["path"] == s.Args["path"] {
				continue
			}
			if n := len(out); n > 0 && out[n-1].Kind == KindRemove && out[n-1].Args["path"] == s.Args["path"] {
				out = out[:n-1] // fuse: drop the REMOVE, keep this MKDIR
			}
		}
		out = append(out, s)
	}
	return out
}

// pathArgs returns the read and write path sets for a step, per its kind
// manifest, used to test whether two steps may run concurrently.
func pathArgs(s Step) (reads, writes map[string]bool) {
	reads, writes = map[string]bool{}, map[string]bool{}
	m := manifests[s.Kind]
	for _, name := range m.reads {
		if v := s.Args[name]; v != "" {
			reads[v] = true
		}
	}
	for _, name := range m.writes {
		if v := s.Args[name]; v != "" {
			writes[v] = true
		}
	}
	return reads, writes
}

// disjoint reports whether a and b may safely execute concurrently: true
// iff neither step's writes overlap the other's reads or writes.
func disjoint(a, b Step) bool {
	ra, wa := pathArgs(a)
	rb, wb := pathArgs(b)
	for p := range wa {
		if ra2 := rb[p]; ra2 {
			return false
		}
		if wb[p] {
			return false
		}
	}
	for p := range wb {
		if ra[p] {
			return false
		}
	}
	return true
}

// assignParallelGroups verifies every declared parallel_group's member
// steps are pairwise read/write-disjoint. A conflicting pair is demoted
// out of the group (ParallelGroup cleared) so the Executor runs it
// sequentially rather than racing on a shared path.
func assignParallelGroups(wp *WorkflowPlan) {
	groups := make(map[string][]int)
	for i, s := range wp.Steps {
		if s.ParallelGroup == "" || s.State == StateSkipped {
			continue
		}
		groups[s.ParallelGroup] = append(groups[s.ParallelGroup], i)
	}

	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		conflicted := make(map[int]bool)
		for a := 0; a < len(idxs); a++ {
			for b := a + 1; b < len(idxs); b++ {
				if !disjoint(wp.Steps[idxs[a]], wp.Steps[idxs[b]]) {
					conflicted[idxs[a]] = true
					conflicted[idxs[b]] = true
				}
			}
		}
		for i := range conflicted {
			wp.Steps[i].ParallelGroup = ""
		}
	}
}
