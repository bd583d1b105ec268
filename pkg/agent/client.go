package agent

import (
	"context"

	"github.com/rizal/riko/pkg/tool"
)

// ModelClient is the abstract capability the loop calls to obtain the
// next model turn. Implementations translate the history view and the
// advertised tool schemas into one provider request. A transport or
// provider fault is reported as a ClientError.
type ModelClient interface {
	Send(ctx context.Context, turns []Turn, tools []tool.Schema) (*Exchange, error)
}
