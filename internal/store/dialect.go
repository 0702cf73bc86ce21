package store

import (
	"fmt"
	"regexp"
)

// dialect abstracts the handful of SQL spellings that differ between the
// three supported drivers (modernc.org/sqlite, lib/pq, go-sql-driver/mysql):
// placeholder style and identifier quoting. Schema column types also vary
// by driver (textType, blobType, boolType); the predicates are plain ANSI
// SQL that all three accept.
type dialect struct {
	name       string
	quote      func(ident string) string
	placeholder func(n int) string
}

func dialectFor(driver string) dialect {
	switch driver {
	case "postgres":
		return dialect{
			name:  "postgres",
			quote: quoteDouble,
			placeholder: func(n int) string {
				return fmt.Sprintf("$%d", n)
			},
		}
	case "mysql":
		return dialect{
			name:        "mysql",
			quote:       quoteBacktick,
			placeholder: func(int) string { return "?" },
		}
	default: // sqlite
		return dialect{
			name:        "sqlite",
			quote:       quoteDouble,
			placeholder: func(int) string { return "?" },
		}
	}
}

func quoteDouble(ident string) string   { return `"` + ident + `"` }
func quoteBacktick(ident string) string { return "`" + ident + "`" }

// params accumulates bind arguments in the exact order their placeholders
// appear in the rendered SQL text. For postgres this also fixes the $N
// numbering; for sqlite/mysql every placeholder renders as "?" regardless
// of position, so correctness there depends entirely on args being
// appended in source-text order — exactly what this type guarantees by
// construction, instead of requiring callers to hand-count positions.
type params struct {
	d    dialect
	args []interface{}
}

func newParams(d dialect) *params { return &params{d: d} }

// add appends v and returns the placeholder to splice into the query at
// this exact point in the text.
func (p *params) add(v interface{}) string {
	p.args = append(p.args, v)
	return p.d.placeholder(len(p.args))
}

// tableNamePattern allows the same characters a consumerGroup name allows,
// so a validated group is always a safe (non-injectable) table identifier.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,60}$`)

func safeTableName(name string) (string, error) {
	if !tableNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeTableName, name)
	}
	// Every caller renders this name through dialect.quote, so a hyphen is
	// fine as-is — quoting, not character substitution, is what makes it a
	// safe identifier, and a substitution here would let two distinct
	// group names collide on one physical table.
	return name, nil
}
