// internal/verify/differ.go
//
// Cross-run verification diffing.
//
// Context
// -------
// A verification run re-audits a database after fixes were applied and
// needs to know which baseline issues disappeared, which persist, and what
// is new.  Issue identity across runs is a composite key — module, category,
// title, and the sorted affected tables — plus, for constraint-style titles,
// the first backtick-quoted identifier from the description, because two
// missing-constraint findings on the same table pair differ only there.
//
// Fix back-annotation is a best-effort substring heuristic (title or table
// name contained in the fix's description or SQL).  A fix matching both a
// resolved and a new issue is tagged RESOLVED: resolved wins, because that
// only removes the fix from the actionable plan when its issue demonstrably
// disappeared.  Treat the annotation as advisory, never authoritative.

package verify

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/yanizio/dbaudit/internal/audit"
)

// Comparison classifies a verification run's issues against a baseline.
type Comparison struct {
	Resolved        []audit.Issue `json:"resolved"`
	Remaining       []audit.Issue `json:"remaining"`
	New             []audit.Issue `json:"new"`
	ProgressPercent int           `json:"progressPercent"`
}

// backtickIdent pulls the first backtick-quoted identifier out of a
// description.
var backtickIdent = regexp.MustCompile("`([A-Za-z0-9_]+)`")

// Compare diffs current issues against baseline issues.  Remaining issues
// keep the current run's copy so their fresh evidence survives.
// ProgressPercent is 0 when the baseline was empty.
func Compare(baseline, current []audit.Issue) Comparison {
	currentByKey := make(map[string]audit.Issue, len(current))
	var order []string
	for _, issue := range current {
		k := issueKey(issue)
		if _, dup := currentByKey[k]; !dup {
			order = append(order, k)
		}
		currentByKey[k] = issue
	}

	cmp := Comparison{
		Resolved:  []audit.Issue{},
		Remaining: []audit.Issue{},
		New:       []audit.Issue{},
	}

	seen := map[string]bool{}
	for _, issue := range baseline {
		k := issueKey(issue)
		if cur, ok := currentByKey[k]; ok {
			cmp.Remaining = append(cmp.Remaining, cur)
			seen[k] = true
		} else {
			cmp.Resolved = append(cmp.Resolved, issue)
		}
	}
	for _, k := range order {
		if !seen[k] {
			cmp.New = append(cmp.New, currentByKey[k])
		}
	}

	if len(baseline) > 0 {
		cmp.ProgressPercent = int(math.Round(
			100 * float64(len(cmp.Resolved)) / float64(len(baseline))))
	}
	return cmp
}

// issueKey builds the composite matching key for one issue.
func issueKey(issue audit.Issue) string {
	parts := []string{issue.ModuleID, string(issue.Category), issue.Title}

	tables := append([]string(nil), issue.Evidence.AffectedTables...)
	sort.Strings(tables)
	parts = append(parts, tables...)

	if strings.Contains(issue.Title, "Missing") || strings.Contains(issue.Title, "Constraint") {
		if m := backtickIdent.FindStringSubmatch(issue.Description); m != nil {
			parts = append(parts, m[1])
		}
	}
	return strings.Join(parts, "::")
}

// AnnotateFixes assigns a Status to every fix in plan by fuzzy-matching it
// against the comparison's resolved and new issue sets, then filters
// RESOLVED fixes out of the returned plan — they no longer need applying.
// The input plan is not mutated.
func AnnotateFixes(plan audit.FixPlan, cmp Comparison) audit.FixPlan {
	out := plan
	out.Migrations = nil

	for _, fix := range plan.Migrations {
		switch {
		case matchesAny(fix, cmp.Resolved):
			// Resolved wins over new; the fix is dropped below.
			fix.Status = audit.FixResolved
		case matchesAny(fix, cmp.New):
			fix.Status = audit.FixNew
		default:
			fix.Status = audit.FixPending
		}
		if fix.Status != audit.FixResolved {
			out.Migrations = append(out.Migrations, fix)
		}
	}
	return out
}

// matchesAny reports whether a fix plausibly addresses one of the issues:
// the issue title appears in the fix description, or an affected table name
// appears in the fix SQL.
func matchesAny(fix audit.SqlFix, issues []audit.Issue) bool {
	sqlLower := strings.ToLower(fix.SQL)
	for _, issue := range issues {
		if issue.Title != "" && strings.Contains(fix.Description, issue.Title) {
			return true
		}
		for _, table := range issue.Evidence.AffectedTables {
			if table != "" && strings.Contains(sqlLower, strings.ToLower(table)) {
				return true
			}
		}
	}
	return false
}
