package monitor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewOperationID returns a unique id for an operation of opType.
func NewOperationID(opType string) string {
	if opType == "" {
		opType = "operation"
	}
	return fmt.Sprintf("%s_%s", opType, uuid.NewString())
}

// Track runs fn as a monitored operation: it is registered, moved to
// Processing, and completed or failed according to fn's result. An empty
// id gets a generated one. Monitoring never changes fn's outcome: if the
// operation cannot be registered, fn still runs untracked.
//
// Example:
//
//	err := monitor.Track(ctx, reg, "", "llm_chat", func(ctx context.Context) error {
//	    return client.Chat(ctx, prompt)
//	})
func Track(ctx context.Context, reg *Registry, id, opType string, fn func(ctx context.Context) error, opts ...StartOption) error {
	if reg == nil {
		return fn(ctx)
	}
	if id == "" {
		id = NewOperationID(opType)
	}
	if _, err := reg.StartOperation(id, opType, opts...); err != nil {
		reg.logger.Warn("operation not tracked",
			zap.String("operation_id", id),
			zap.String("operation_type", opType),
			zap.Error(err))
		return fn(ctx)
	}
	reg.UpdateOperation(id, WithStatus(StatusProcessing), WithStep(StepExecuting))

	defer func() {
		if r := recover(); r != nil {
			reg.CompleteOperation(id, false, Metadata{
				MetaError:     String(fmt.Sprint(r)),
				MetaErrorType: String("panic"),
			})
			panic(r)
		}
	}()

	err := fn(ctx)
	if err != nil {
		reg.CompleteOperation(id, false, Metadata{
			MetaError:     String(err.Error()),
			MetaErrorType: String(fmt.Sprintf("%T", err)),
		})
		return err
	}
	reg.CompleteOperation(id, true, nil)
	return nil
}
