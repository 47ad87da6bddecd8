package db

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	gosync "sync"

	"modernc.org/sqlite"
)

const defaultDBName = "taskdeck.db"

type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".taskdeck", defaultDBName)
}

// EnsureWorkspace creates the workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".taskdeck")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on. The regexp scalar
// function is registered once per process so `field REGEXP ?` predicates work.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

var regexpCache = struct {
	gosync.Mutex
	compiled map[string]*regexp.Regexp
}{compiled: map[string]*regexp.Regexp{}}

func matchRegexp(pattern, text string) (bool, error) {
	regexpCache.Lock()
	re, ok := regexpCache.compiled[pattern]
	regexpCache.Unlock()
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regexp %q: %w", pattern, err)
		}
		regexpCache.Lock()
		regexpCache.compiled[pattern] = re
		regexpCache.Unlock()
	}
	return re.MatchString(text), nil
}

func init() {
	// SQLite rewrites `X REGEXP Y` to regexp(Y, X).
	sqlite.MustRegisterDeterministicScalarFunction("regexp", 2, func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		pattern, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("regexp: pattern must be text")
		}
		text, ok := args[1].(string)
		if !ok {
			// Non-text values never match.
			return int64(0), nil
		}
		matched, err := matchRegexp(pattern, text)
		if err != nil {
			return nil, err
		}
		if matched {
			return int64(1), nil
		}
		return int64(0), nil
	})
}
