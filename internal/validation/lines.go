package validation

import (
	"sort"
	"strings"

	"github.com/withObsrvr/netex-crossfile-validator/internal/facts"
	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
)

// DuplicateLineNames reports lines declared in different files that share
// public code and name, compared case-insensitively. One warning per group,
// on the first line in file order.
func DuplicateLineNames(lines []facts.LineInfo) []report.Entry {
	type nameKey struct{ code, name string }

	groups := make(map[nameKey][]facts.LineInfo)
	var order []nameKey
	for _, l := range lines {
		if l.Name == "" && l.PublicCode == "" {
			continue
		}
		k := nameKey{strings.ToLower(strings.TrimSpace(l.PublicCode)), strings.ToLower(strings.TrimSpace(l.Name))}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], l)
	}

	var entries []report.Entry
	for _, k := range order {
		group := groups[k]
		sort.SliceStable(group, func(i, j int) bool { return group[i].FileName < group[j].FileName })

		files := make(map[ids.FileName]bool)
		for _, l := range group {
			files[l.FileName] = true
		}
		if len(files) < 2 {
			continue
		}

		first := group[0]
		var refs, others []string
		for _, l := range group[1:] {
			if l.FileName == first.FileName {
				continue
			}
			refs = append(refs, string(l.LineID))
			others = append(others, string(l.LineID)+" ("+string(l.FileName)+")")
		}
		entries = append(entries, report.NewEntry(report.CodeDuplicateLineName, first.FileName, string(first.LineID),
			"line %s %q (public code %q) has the same name as %s",
			first.LineID, first.Name, first.PublicCode, strings.Join(others, ", ")).WithRefs(refs...))
	}
	return entries
}
