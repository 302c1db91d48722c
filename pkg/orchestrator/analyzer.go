// Copyright 2025 Certen Protocol
//
// The query-analyzer boundary: classifies an incoming SQL statement's kind
// and target table, and applies the determinism rewrites spec section 4.5
// requires before a statement is handed to the replay environment. Full SQL
// parsing is out of scope (spec section 1); this is deliberately a
// tokenize-and-classify adapter in the style of the pack's lightweight SQL
// inspectors, not a grammar.

package orchestrator

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/model"
	"github.com/certen/independant-validator/pkg/schema"
)

// QueryAnalysis is the result of classifying one SQL statement.
type QueryAnalysis struct {
	Kind         model.OperationKind
	Tables       []string
	RewrittenSQL string
}

// QueryAnalyzer is the injected boundary between raw SQL text and the
// orchestrator's eligibility and determinism-rewrite logic. The core never
// parses SQL itself beyond this interface.
type QueryAnalyzer interface {
	Analyze(sql string) QueryAnalysis
}

var (
	reInsertInto  = regexp.MustCompile(`(?i)^\s*insert\s+into\s+([a-zA-Z0-9_."]+)`)
	reUpdate      = regexp.MustCompile(`(?i)^\s*update\s+([a-zA-Z0-9_."]+)`)
	reDeleteFrom  = regexp.MustCompile(`(?i)^\s*delete\s+from\s+([a-zA-Z0-9_."]+)`)
	reSelectFrom  = regexp.MustCompile(`(?i)\bfrom\s+([a-zA-Z0-9_."]+)`)
	reCreateTable = regexp.MustCompile(`(?i)^\s*create\s+table\s+(?:if\s+not\s+exists\s+)?([a-zA-Z0-9_."]+)`)
	reAlterTable  = regexp.MustCompile(`(?i)^\s*alter\s+table\s+([a-zA-Z0-9_."]+)`)
	reDropTable   = regexp.MustCompile(`(?i)^\s*drop\s+table\s+(?:if\s+exists\s+)?([a-zA-Z0-9_."]+)`)
	reCopy        = regexp.MustCompile(`(?i)^\s*copy\s+([a-zA-Z0-9_."]+)`)
	reOrderBy     = regexp.MustCompile(`(?i)\border\s+by\b`)
	reParallel    = regexp.MustCompile(`(?i)/\*\+\s*parallel\b[^*]*\*/`)

	reNow       = regexp.MustCompile(`(?i)\b(?:now\(\)|current_timestamp|transaction_timestamp\(\)|statement_timestamp\(\)|clock_timestamp\(\))`)
	reRandom    = regexp.MustCompile(`(?i)\brandom\(\)`)
	reGenUUID   = regexp.MustCompile(`(?i)\b(?:gen_random_uuid|uuid_generate_v4)\(\)`)
)

// DefaultAnalyzer is a simple keyword-driven classifier, grounded on the
// pack's tokenize-and-classify SQL inspectors. schemas is consulted (when
// non-nil) to build a deterministic ORDER BY clause over a table's primary
// key when rewriting a select-without-order-by statement; without schema
// information it falls back to ORDER BY 1.
type DefaultAnalyzer struct {
	Schemas schema.Map
}

// NewDefaultAnalyzer returns a DefaultAnalyzer bound to schemas. schemas may
// be nil.
func NewDefaultAnalyzer(schemas schema.Map) *DefaultAnalyzer {
	return &DefaultAnalyzer{Schemas: schemas}
}

func (a *DefaultAnalyzer) Analyze(sql string) QueryAnalysis {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)

	var kind model.OperationKind
	var table string

	switch {
	case strings.HasPrefix(upper, "INSERT"):
		kind = model.OpInsert
		table = firstMatch(reInsertInto, trimmed)
	case strings.HasPrefix(upper, "UPDATE"):
		kind = model.OpUpdate
		table = firstMatch(reUpdate, trimmed)
	case strings.HasPrefix(upper, "DELETE"):
		kind = model.OpDelete
		table = firstMatch(reDeleteFrom, trimmed)
	case strings.HasPrefix(upper, "COPY"):
		// COPY loads rows like a bulk insert and is always eligible for
		// verification, same as insert/update/delete.
		kind = model.OpInsert
		table = firstMatch(reCopy, trimmed)
	case strings.HasPrefix(upper, "SELECT"):
		kind = model.OpQuery
		table = firstMatch(reSelectFrom, trimmed)
	case strings.HasPrefix(upper, "CREATE TABLE"):
		kind = model.OpCreateAlterDropTable
		table = firstMatch(reCreateTable, trimmed)
	case strings.HasPrefix(upper, "ALTER TABLE"):
		kind = model.OpCreateAlterDropTable
		table = firstMatch(reAlterTable, trimmed)
	case strings.HasPrefix(upper, "DROP TABLE"):
		kind = model.OpCreateAlterDropTable
		table = firstMatch(reDropTable, trimmed)
	case strings.HasPrefix(upper, "CREATE INDEX"), strings.HasPrefix(upper, "DROP INDEX"):
		kind = model.OpCreateDropIndex
	case strings.HasPrefix(upper, "BEGIN"), strings.HasPrefix(upper, "START TRANSACTION"):
		kind = model.OpBegin
	case strings.HasPrefix(upper, "COMMIT"):
		kind = model.OpCommit
	case strings.HasPrefix(upper, "ROLLBACK"):
		kind = model.OpRollback
	case strings.HasPrefix(upper, "SAVEPOINT"):
		kind = model.OpSavepoint
	default:
		kind = model.OpOther
	}

	rewritten := a.rewriteForDeterminism(trimmed, kind, table)

	var tables []string
	if table != "" {
		tables = []string{unquote(table)}
	}
	return QueryAnalysis{Kind: kind, Tables: tables, RewrittenSQL: rewritten}
}

// rewriteForDeterminism applies the transaction-independent rewrites:
// append an order-by to a select lacking one, and strip a parallel-execution
// hint. Timestamp/random/UUID substitution needs the transaction id and so
// happens later, in SubstituteNondeterministic.
func (a *DefaultAnalyzer) rewriteForDeterminism(sql string, kind model.OperationKind, table string) string {
	out := reParallel.ReplaceAllString(sql, "")
	if kind == model.OpQuery && !reOrderBy.MatchString(out) {
		out = strings.TrimRight(strings.TrimSpace(out), ";") + " ORDER BY " + a.orderByClause(table)
	}
	return out
}

func (a *DefaultAnalyzer) orderByClause(table string) string {
	if a.Schemas != nil {
		if s, ok := a.Schemas[unquote(table)]; ok && len(s.PrimaryKey) > 0 {
			return strings.Join(s.PrimaryKey, ", ")
		}
	}
	return "1"
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

// SubstituteNondeterministic replaces timestamp-, random-, and
// uuid-returning function calls with fixed literals derived from
// (transaction id, seed), per the determinism contract: replaying the same
// transaction always sees the same values, and two different transactions
// never share them.
func SubstituteNondeterministic(sql string, txID uuid.UUID, seed uint64) string {
	digest := cryptohash.Digest(cryptohash.DefaultAlgorithm, cryptohash.TagTransaction, txID[:], cryptohash.BE64(seed))

	// Transaction-bound timestamp: seconds past the epoch, bounded so the
	// literal stays inside the backend's representable range.
	seconds := int64(binary.BigEndian.Uint64(digest[0:8]) % (1 << 33))
	ts := time.Unix(seconds, 0).UTC().Format("2006-01-02 15:04:05")
	out := reNow.ReplaceAllString(sql, fmt.Sprintf("TIMESTAMP '%s'", ts))

	// Fixed random fraction in [0, 1).
	frac := float64(binary.BigEndian.Uint64(digest[8:16])>>11) / float64(uint64(1)<<53)
	out = reRandom.ReplaceAllString(out, fmt.Sprintf("%.17f", frac))

	// Fixed UUID from the remaining digest bytes.
	var fixed uuid.UUID
	copy(fixed[:], digest[16:32])
	fixed[6] = (fixed[6] & 0x0f) | 0x40 // version 4
	fixed[8] = (fixed[8] & 0x3f) | 0x80 // RFC 4122 variant
	out = reGenUUID.ReplaceAllString(out, fmt.Sprintf("'%s'::uuid", fixed))

	return out
}
