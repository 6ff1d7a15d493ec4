// internal/completion/guard.go
//
// Safety guards for collaborator-generated SQL.
//
// Generated queries run against a customer's production database, so the
// contract is strict: read-only (single SELECT statement) and row-capped.
// Anything that fails the check is rejected, never "fixed up" into
// something executable.
package completion

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeSQL is returned for any generated query that fails the
// read-only contract.
var ErrUnsafeSQL = errors.New("completion: unsafe generated SQL")

var limitClause = regexp.MustCompile(`(?i)\blimit\s+\d+`)

// GuardQuery validates that sql is a single SELECT statement and forces a
// LIMIT of at most maxRows when one is missing.
func GuardQuery(sql string, maxRows int64) (string, error) {
	q := strings.TrimSpace(sql)
	q = strings.TrimSuffix(q, ";")
	if q == "" {
		return "", fmt.Errorf("%w: empty query", ErrUnsafeSQL)
	}
	if strings.Contains(q, ";") {
		return "", fmt.Errorf("%w: multiple statements", ErrUnsafeSQL)
	}
	if !strings.HasPrefix(strings.ToUpper(q), "SELECT") {
		return "", fmt.Errorf("%w: non-SELECT statement", ErrUnsafeSQL)
	}
	if !limitClause.MatchString(q) {
		q = fmt.Sprintf("%s LIMIT %d", q, maxRows)
	}
	return q, nil
}
