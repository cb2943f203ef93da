package dbx

import (
	"fmt"
	"strings"
)

// Filter accumulates AND-ed conditions with PostgreSQL positional
// placeholders. Each condition must contain exactly one "?" which is
// replaced by the next $n.
type Filter struct {
	conds []string
	args  []any
}

// Add appends cond with its argument.
func (f *Filter) Add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(f.args)), 1))
}

// Where renders the WHERE clause, or "" when there are no conditions.
func (f *Filter) Where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// Page appends LIMIT/OFFSET placeholders and returns the clause.
func (f *Filter) Page(skip, limit int) string {
	f.args = append(f.args, limit, skip)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(f.args)-1, len(f.args))
}

// Args returns the collected arguments in placeholder order.
func (f *Filter) Args() []any {
	return f.args
}
