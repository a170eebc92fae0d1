package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaVal  cue.Value
	schemaErr  error
)

func compiledSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaCUE, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", err)
			return
		}
		schemaVal = v.LookupPath(cue.ParsePath("#Config"))
		if err := schemaVal.Err(); err != nil {
			schemaErr = fmt.Errorf("lookup #Config: %w", err)
		}
	})
	return schemaCtx, schemaVal, schemaErr
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks c against the CUE schema, then applies the cross-field
// rules CUE cannot express.
func (c *Config) Validate() error {
	ctx, schema, err := compiledSchema()
	if err != nil {
		return err
	}

	var problems []string

	v := schema.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		for _, e := range errors.Errors(err) {
			problems = append(problems, strings.TrimSpace(errors.Details(e, nil)))
		}
	}

	problems = append(problems, c.crossFieldProblems()...)
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c *Config) crossFieldProblems() []string {
	var problems []string

	counts := map[int]bool{}
	for _, m := range c.Scoring.Multipliers {
		if counts[m.Agents] {
			problems = append(problems, fmt.Sprintf("scoring.multipliers: agent count %d listed twice", m.Agents))
		}
		counts[m.Agents] = true
	}

	kinds := map[string]bool{}
	for i, a := range c.Agents {
		where := fmt.Sprintf("agents[%d] (%s)", i, a.Kind)
		if kinds[a.Kind] {
			problems = append(problems, where+": duplicate agent kind")
		}
		kinds[a.Kind] = true

		if a.Scale == ScaleLadder {
			if len(a.Ladder) == 0 {
				problems = append(problems, where+": ladder scale needs a ladder table")
			} else if _, ok := a.Ladder[a.DefaultGrade]; !ok {
				problems = append(problems, fmt.Sprintf("%s: default_grade %q is not in the ladder", where, a.DefaultGrade))
			}
		}
		for _, b := range a.Bullish {
			for _, s := range a.Bearish {
				if b == s {
					problems = append(problems, fmt.Sprintf("%s: signal type %q is both bullish and bearish", where, b))
				}
			}
		}
		if a.Claims.Enabled && a.Claims.AgentID == 0 && c.Ledger.Mode == LedgerHTTP {
			problems = append(problems, where+": claims need an agent_id with the http ledger")
		}
	}

	if c.UsesPostgres() && c.Postgres.DSN == "" {
		problems = append(problems, "postgres.dsn is required when an agent uses the postgres driver")
	}
	return problems
}
