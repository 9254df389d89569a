// Package selector filters local files with CEL expressions such as
//
//	size > 1048576 && ext == ".log"
//	name.startsWith("report") && mtime > timestamp("2026-01-01T00:00:00Z")
//
// Variables: size (int), name, ext, dir, path (string), mtime (timestamp).
package selector

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/gezibash/blobsync/internal/localfs"
)

// Selector is a compiled file filter. A nil Selector matches every file.
type Selector struct {
	expr    string
	program cel.Program
}

// Compile parses and type-checks expr. The expression must yield a bool.
// An empty expression returns a nil Selector.
func Compile(expr string) (*Selector, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("size", cel.IntType),
		cel.Variable("name", cel.StringType),
		cel.Variable("ext", cel.StringType),
		cel.Variable("dir", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("mtime", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("cel compile: expression yields %s, want bool", ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	return &Selector{expr: expr, program: prog}, nil
}

// String returns the source expression.
func (s *Selector) String() string {
	if s == nil {
		return ""
	}
	return s.expr
}

// Match evaluates the selector against fd. Evaluation errors such as
// integer overflow are returned rather than treated as a miss.
func (s *Selector) Match(fd localfs.FileDescriptor) (bool, error) {
	if s == nil {
		return true, nil
	}
	out, _, err := s.program.Eval(Vars(fd))
	if err != nil {
		return false, fmt.Errorf("cel eval %q on %s: %w", s.expr, fd.RelativePath, err)
	}
	if out.Type() != types.BoolType {
		return false, fmt.Errorf("cel eval %q on %s: got %s, want bool", s.expr, fd.RelativePath, out.Type())
	}
	b, _ := out.Value().(bool)
	return b, nil
}

// Vars returns the variables an expression sees for fd. Paths use forward
// slashes.
func Vars(fd localfs.FileDescriptor) map[string]any {
	rel := strings.ReplaceAll(fd.RelativePath, "\\", "/")
	name := path.Base(rel)
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	return map[string]any{
		"size":  fd.SizeInBytes,
		"name":  name,
		"ext":   strings.ToLower(path.Ext(name)),
		"dir":   dir,
		"path":  rel,
		"mtime": fd.LastWriteTimeUTC,
	}
}
