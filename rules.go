package gdexposure

import (
	"fmt"
	"os"
	"reflect"

	"github.com/FabriceFx/gdexposure/pkg/exposureevent"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// CELEnv provides a CEL environment configured for evaluating suppression
// rules against confirmed exposures.
type CELEnv struct {
	env *cel.Env
}

// NewCELEnv creates a new CEL environment with exposure types registered.
// Field names in CEL expressions use lowerCamelCase (matching JSON tags),
// e.g., exposure.docId, exposure.itemKind. The convenience variables
// owner, docId, title and level are also bound as plain strings.
func NewCELEnv() (*CELEnv, error) {
	env, err := cel.NewEnv(
		ext.NativeTypes(
			ext.ParseStructTag("json"),
			reflect.TypeOf(&exposureevent.Exposure{}),
		),
		cel.Variable("exposure", cel.ObjectType("exposureevent.Exposure")),
		cel.Variable("owner", cel.StringType),
		cel.Variable("docId", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("level", cel.StringType),
		ext.Strings(),
		cel.Function("env",
			cel.Overload("env_string",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(func(arg ref.Val) ref.Val {
					name, ok := arg.Value().(string)
					if !ok {
						return types.NewErr("env() requires a string argument")
					}
					return types.String(os.Getenv(name))
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELEnv{env: env}, nil
}

// CompiledExpression represents a compiled CEL expression returning bool.
type CompiledExpression struct {
	program cel.Program
}

// Compile compiles a CEL expression string.
func (e *CELEnv) Compile(expr string) (*CompiledExpression, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL expression must return bool, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return &CompiledExpression{program: prg}, nil
}

// Eval evaluates the compiled expression against the given exposure.
func (c *CompiledExpression) Eval(exposure *exposureevent.Exposure) (bool, error) {
	if exposure == nil {
		return false, nil
	}
	vars := map[string]any{
		"exposure": exposure,
		"owner":    exposure.Owner,
		"docId":    exposure.DocID,
		"title":    exposure.Title,
		"level":    exposure.Level,
	}
	result, _, err := c.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression returned non-bool value: %T", result.Value())
	}
	return b, nil
}
