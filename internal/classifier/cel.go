package classifier

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/harrier/internal/domain"
)

// CELOracle evaluates a compiled CEL model expression over the feature vector.
//
// Each feature is bound under its domain.FeatureOrder name as a double, and the
// whole vector is bound as "features". The expression must return bool or int.
type CELOracle struct {
	program cel.Program
	source  string
}

// NewCELOracle compiles expression. A compile failure is a malformed model artifact.
func NewCELOracle(expression string) (*CELOracle, error) {
	opts := make([]cel.EnvOption, 0, domain.FeatureCount+1)
	for _, name := range domain.FeatureOrder {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}
	opts = append(opts, cel.Variable("features", cel.ListType(cel.DoubleType)))

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile model: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.IntType {
		return nil, fmt.Errorf("model must return bool or int, got %s", outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	return &CELOracle{program: program, source: expression}, nil
}

// LoadCELOracle reads and compiles the model artifact at path.
func LoadCELOracle(path string) (*CELOracle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	expr := strings.TrimSpace(string(data))
	if expr == "" {
		return nil, fmt.Errorf("model %s is empty", path)
	}
	return NewCELOracle(expr)
}

// Predict evaluates the model.
func (o *CELOracle) Predict(ctx context.Context, features []float64) (int, error) {
	if len(features) != domain.FeatureCount {
		return 0, fmt.Errorf("expected %d features, got %d", domain.FeatureCount, len(features))
	}

	activation := make(map[string]any, domain.FeatureCount+1)
	for i, name := range domain.FeatureOrder {
		activation[name] = features[i]
	}
	activation["features"] = features

	out, _, err := o.program.ContextEval(ctx, activation)
	if err != nil {
		return 0, fmt.Errorf("model evaluation error: %w", err)
	}
	return toLabel(out)
}

// toLabel converts a CEL value to a class label.
func toLabel(val ref.Val) (int, error) {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case types.Int:
		return int(v), nil
	default:
		return 0, fmt.Errorf("unexpected model output type %s", val.Type().TypeName())
	}
}
