package sandbox

import (
	"crypto/sha256"
	"regexp"
	"strings"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// ErrNoCallableExport is the message reported when a script exports no function.
const ErrNoCallableExport = "no callable export"

var exportDefaultRe = regexp.MustCompile(`(?m)^([ \t]*)export[ \t]+default[ \t]+`)

const (
	wrapHead = "(function () {\n\"use strict\";\nlet exports = {};\nlet module = { exports: exports };\n"
	wrapTail = "\n;return (module.exports && module.exports.default !== undefined) ? module.exports.default : module.exports;\n})()"
)

// wrap turns raw source into a program whose completion value is the
// script's export. Both `module.exports = fn` and `export default fn` work.
func wrap(source string) string {
	body := exportDefaultRe.ReplaceAllString(source, "${1}module.exports.default = ")
	var b strings.Builder
	b.Grow(len(wrapHead) + len(body) + len(wrapTail))
	b.WriteString(wrapHead)
	b.WriteString(body)
	b.WriteString(wrapTail)
	return b.String()
}

// Compiler turns source into goja programs, caching by source hash. A
// *goja.Program is immutable and can be run by any number of runtimes.
type Compiler struct {
	cache *lru.Cache[[32]byte, *goja.Program]
}

// NewCompiler returns a compiler keeping at most size programs. size <= 0
// disables caching.
func NewCompiler(size int) *Compiler {
	c := &Compiler{}
	if size > 0 {
		c.cache, _ = lru.New[[32]byte, *goja.Program](size)
	}
	return c
}

// Compile parses source. Syntax errors become a CompileError.
func (c *Compiler) Compile(source string) (*goja.Program, error) {
	key := sha256.Sum256([]byte(source))
	if c.cache != nil {
		if prog, ok := c.cache.Get(key); ok {
			return prog, nil
		}
	}

	prog, err := goja.Compile("indicator.js", wrap(source), false)
	if err != nil {
		return nil, types.NewError(types.CodeCompile, "syntax error: "+err.Error(), nil)
	}
	if c.cache != nil {
		c.cache.ContainsOrAdd(key, prog)
	}
	return prog, nil
}

// Len reports the number of cached programs.
func (c *Compiler) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

// instantiate runs prog in vm and extracts the entry function.
func instantiate(vm *goja.Runtime, prog *goja.Program) (goja.Callable, error) {
	v, err := vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, types.CompileError(ErrNoCallableExport)
	}
	return fn, nil
}
