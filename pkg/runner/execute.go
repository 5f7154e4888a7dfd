package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/otelhelper"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// execute runs one attempt of node. It never touches the execution state.
func (s *session) execute(
	ctx context.Context,
	node *models.NodeDefinition,
	actionCtx protocol.ActionContext,
	scope protocol.Scope,
) (result nodeResult) {
	started := time.Now()
	result = nodeResult{nodeID: node.ID, attempt: actionCtx.Attempt}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "node.execute",
		attribute.String(otelhelper.ExecutionIDKey, actionCtx.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, actionCtx.WorkflowID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.ActionTypeKey, node.ActionTypeID),
		attribute.Int(otelhelper.AttemptKey, actionCtx.Attempt),
	)

	defer func() {
		result.duration = time.Since(started)

		outcome := "succeeded"
		if result.err != nil {
			outcome = string(result.err.Kind)
			otelhelper.SetError(span, result.err)
		}

		s.metrics.NodeAttempt(node.ActionTypeID, outcome, result.duration)
		span.End()
	}()

	timeout := node.Timeout.Std()
	if timeout <= 0 {
		timeout = s.config.NodeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := s.await(ctx, node, actionCtx, scope)
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = context.DeadlineExceeded
	}

	if err != nil {
		result.err = classify(ctx, err, timeout)

		return result
	}

	if err := checkPorts(node, output); err != nil {
		result.err = protocol.NewError(protocol.KindFailure, false, err)

		return result
	}

	result.output = output

	return result
}

type invocation struct {
	output map[string]any
	err    error
}

// await runs the action on its own goroutine so that an action ignoring ctx
// cannot outlive its deadline. A late result is dropped.
func (s *session) await(
	ctx context.Context,
	node *models.NodeDefinition,
	actionCtx protocol.ActionContext,
	scope protocol.Scope,
) (map[string]any, error) {
	done := make(chan invocation, 1)

	go func() {
		output, err := s.invoke(ctx, node, actionCtx, scope)
		done <- invocation{output: output, err: err}
	}()

	select {
	case res := <-done:
		return res.output, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *session) invoke(
	ctx context.Context,
	node *models.NodeDefinition,
	actionCtx protocol.ActionContext,
	scope protocol.Scope,
) (output map[string]any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			output = nil
			err = protocol.Permanent(fmt.Errorf("action %s panicked: %v", node.ActionTypeID, recovered))
		}
	}()

	factory, err := s.actions.Get(node.ActionTypeID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.evaluator.Resolve(ctx, node.Parameters, scope)
	if err != nil {
		return nil, asKind(err, protocol.KindExpression)
	}

	params, _ := resolved.(map[string]any)
	if params == nil {
		params = map[string]any{}
	}

	if err := validateParameters(factory.Schema(), params); err != nil {
		return nil, protocol.NewError(protocol.KindInvalidParameters, false, err)
	}

	action, err := factory.Create(ctx, params)
	if err != nil {
		return nil, asKind(err, protocol.KindInvalidParameters)
	}

	return action.Execute(ctx, actionCtx)
}

// asKind keeps an ActionError as is and turns anything else into a
// non-retryable error of kind.
func asKind(err error, kind protocol.ErrorKind) error {
	var actionErr *protocol.ActionError
	if errors.As(err, &actionErr) {
		return actionErr
	}

	return protocol.NewError(kind, false, err)
}

func classify(ctx context.Context, err error, timeout time.Duration) *protocol.ActionError {
	var actionErr *protocol.ActionError
	if errors.As(err, &actionErr) {
		return actionErr
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return protocol.NewError(protocol.KindTimeout, true, fmt.Errorf("node timed out after %s: %w", timeout, err))
	}

	return protocol.Classify(err)
}

func validateParameters(schema map[string]any, params map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(params)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func checkPorts(node *models.NodeDefinition, output map[string]any) error {
	declared := node.OutputPorts()

	for port := range output {
		if !slices.Contains(declared, port) {
			return fmt.Errorf("action %s produced undeclared output port %q", node.ActionTypeID, port)
		}
	}

	return nil
}
