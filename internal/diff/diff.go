package diff

import (
	"sort"
)

// FileStatus is the left-relative-to-right comparison result for one file.
type FileStatus string

const (
	StatusUnchanged FileStatus = "unchanged"
	StatusAdded     FileStatus = "added"    // present only on the left
	StatusModified  FileStatus = "modified" // present on both, hashes differ
	StatusDeleted   FileStatus = "deleted"  // present only on the right
)

// Origin attributes a file's change to the side that diverged from the
// baseline.
type Origin string

const (
	OriginNone  Origin = "none"
	OriginLeft  Origin = "left"
	OriginRight Origin = "right"
	OriginBoth  Origin = "both"
)

// FileDiff is the comparison result for one file between two tiers.
type FileDiff struct {
	Path      string     `json:"path"`
	Status    FileStatus `json:"status"`
	Origin    Origin     `json:"change_origin"`
	LeftHash  string     `json:"left_hash,omitempty"`
	RightHash string     `json:"right_hash,omitempty"`
}

// Summary counts files by status.
type Summary struct {
	Unchanged int `json:"unchanged"`
	Added     int `json:"added"`
	Modified  int `json:"modified"`
	Deleted   int `json:"deleted"`
}

// Result is one artifact's full comparison for one scope.
type Result struct {
	Scope      Scope      `json:"scope"`
	Collection string     `json:"collection"`
	Artifact   string     `json:"artifact"`
	Project    string     `json:"project,omitempty"`
	HasChanges bool       `json:"has_changes"`
	Files      []FileDiff `json:"files"`
	Summary    Summary    `json:"summary"`
}

// compare builds the per-file diff set from three hash maps: the two sides
// and the recorded baseline both are judged against. Files absent from both
// sides are out of scope even if the baseline still lists them.
func compare(left, right, base map[string]string) ([]FileDiff, Summary) {
	paths := make([]string, 0, len(left)+len(right))
	seen := make(map[string]struct{}, len(left)+len(right))
	for p := range left {
		paths = append(paths, p)
		seen[p] = struct{}{}
	}
	for p := range right {
		if _, ok := seen[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	files := make([]FileDiff, 0, len(paths))
	var sum Summary
	for _, p := range paths {
		lh, lok := left[p]
		rh, rok := right[p]

		fd := FileDiff{Path: p, LeftHash: lh, RightHash: rh}
		switch {
		case lok && rok && lh == rh:
			fd.Status = StatusUnchanged
			sum.Unchanged++
		case lok && !rok:
			fd.Status = StatusAdded
			sum.Added++
		case !lok && rok:
			fd.Status = StatusDeleted
			sum.Deleted++
		default:
			fd.Status = StatusModified
			sum.Modified++
		}

		bh := base[p]
		leftChanged := lh != bh
		rightChanged := rh != bh
		switch {
		case !leftChanged && !rightChanged:
			fd.Origin = OriginNone
		case leftChanged && rightChanged && lh == rh:
			// Both sides moved to the same content: converged, no drift.
			fd.Origin = OriginNone
		case leftChanged && rightChanged:
			fd.Origin = OriginBoth
		case leftChanged:
			fd.Origin = OriginLeft
		default:
			fd.Origin = OriginRight
		}
		files = append(files, fd)
	}
	return files, sum
}
