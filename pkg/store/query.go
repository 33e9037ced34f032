package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// buildInQuery expands an IN (?) placeholder for the given ids and rebinds
// the statement for Postgres. Callers must handle the empty-id case before
// calling; sqlx.In rejects empty slices.
func buildInQuery(query string, ids []string, extraArgs ...interface{}) (string, []interface{}, error) {
	args := make([]interface{}, 0, 1+len(extraArgs))
	args = append(args, ids)
	args = append(args, extraArgs...)
	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("failed to expand query arguments: %w", err)
	}
	return sqlx.Rebind(sqlx.DOLLAR, expanded), expandedArgs, nil
}
