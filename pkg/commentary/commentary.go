// Package commentary generates the playful, informational-only remark
// attached to a resolution journey for the observability surface — never
// consulted for any resolution decision, purely an ornament. Conditions
// are expr-lang expressions evaluated against the query's outcome, the
// same compile-once/evaluate-many pattern used elsewhere in this codebase
// for rule evaluation.
package commentary

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Context is the evaluation environment for a quip condition.
type Context struct {
	Domain       string // fully qualified query name
	QueryType    string
	Rcode        string // "NOERROR", "NXDOMAIN", "SERVFAIL", ...
	Lookup       string // "hit", "stale", "miss"
	Provenance   string // upstream address, "recursive", "negcache", ...
	ElapsedMs    float64
	Speculative  bool // answered from a speculative negative-cache entry
	AnswerCount  int
}

// Quip is one candidate remark: Logic decides whether it applies, Text is
// a template rendered with Go's %s/%v-style formatting against the values
// named in Args.
type Quip struct {
	Name    string
	Logic   string
	Text    string
	Args    []string // Context field names substituted into Text, in order
	program *vm.Program
}

// Engine holds the compiled quip set and evaluates one per query.
type Engine struct {
	mu    sync.RWMutex
	quips []*Quip
}

// New compiles quips and returns a ready Engine. A quip that fails to
// compile is dropped with its error returned; evaluation continues with
// whatever compiled successfully.
func New(quips []*Quip) (*Engine, []error) {
	e := &Engine{}
	var errs []error
	for _, q := range quips {
		program, err := expr.Compile(q.Logic, expr.Env(Context{}), expr.AsBool())
		if err != nil {
			errs = append(errs, fmt.Errorf("commentary quip %q: %w", q.Name, err))
			continue
		}
		q.program = program
		e.quips = append(e.quips, q)
	}
	return e, errs
}

// Remark evaluates every quip's condition against ctx in order and returns
// the first match's rendered text, or "" if none applied.
func (e *Engine) Remark(ctx Context) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, q := range e.quips {
		result, err := vm.Run(q.program, ctx)
		if err != nil {
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			return render(q, ctx)
		}
	}
	return ""
}

func render(q *Quip, ctx Context) string {
	values := make([]any, len(q.Args))
	for i, arg := range q.Args {
		values[i] = fieldValue(ctx, arg)
	}
	return fmt.Sprintf(q.Text, values...)
}

func fieldValue(ctx Context, name string) any {
	switch name {
	case "Domain":
		return ctx.Domain
	case "QueryType":
		return ctx.QueryType
	case "Rcode":
		return ctx.Rcode
	case "Lookup":
		return ctx.Lookup
	case "Provenance":
		return ctx.Provenance
	case "ElapsedMs":
		return ctx.ElapsedMs
	case "AnswerCount":
		return ctx.AnswerCount
	default:
		return ""
	}
}

// DefaultQuips returns the built-in remark set, covering the common
// outcome shapes so the surface has something to say out of the box.
func DefaultQuips() []*Quip {
	return []*Quip{
		{
			Name:  "speculative-catch",
			Logic: `Speculative && Rcode == "NXDOMAIN"`,
			Text:  "caught %s before it even finished failing — speculative NXDOMAIN for a lookalike of a known typo",
			Args:  []string{"Domain"},
		},
		{
			Name:  "instant-cache-hit",
			Logic: `Lookup == "hit" && ElapsedMs < 1`,
			Text:  "%s answered from cache in under a millisecond",
			Args:  []string{"Domain"},
		},
		{
			Name:  "stale-save",
			Logic: `Lookup == "stale"`,
			Text:  "%s served stale while a refresh ran in the background",
			Args:  []string{"Domain"},
		},
		{
			Name:  "slow-recursive-walk",
			Logic: `Provenance == "recursive" && ElapsedMs > 500`,
			Text:  "%s took the long way: a %vms walk down from the root",
			Args:  []string{"Domain", "ElapsedMs"},
		},
		{
			Name:  "upstream-servfail",
			Logic: `Rcode == "SERVFAIL"`,
			Text:  "every upstream shrugged at %s",
			Args:  []string{"Domain"},
		},
	}
}

// ContextFromOutcome is a small convenience constructor used by the query
// engine so it doesn't need to know commentary.Context's field layout.
func ContextFromOutcome(domain, qtype, rcode, lookup, provenance string, elapsed time.Duration, speculative bool, answers int) Context {
	return Context{
		Domain:      strings.TrimSuffix(domain, "."),
		QueryType:   qtype,
		Rcode:       rcode,
		Lookup:      lookup,
		Provenance:  provenance,
		ElapsedMs:   float64(elapsed.Microseconds()) / 1000,
		Speculative: speculative,
		AnswerCount: answers,
	}
}
