package predict

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

// PredictMethod is the unary RPC served by the model worker. Requests and
// responses are google.protobuf.Struct so the worker needs no generated stubs:
// the request carries {"closes": [...]} and the reply {"predictions": [...]}.
const PredictMethod = "/cryptopiggy.predictor.v1.Predictor/Predict"

// GRPCClient sends close series to the model worker over gRPC.
type GRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	log     *zap.Logger
}

// NewGRPCClient connects lazily to addr.
func NewGRPCClient(addr string, logger *zap.Logger) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCClient{conn: conn, timeout: 2 * time.Second, log: logger.Named("predict")}, nil
}

func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Predict forwards the closes and translates the reply into flags. Numbers
// are read as > 0.5, booleans as-is.
func (c *GRPCClient) Predict(ctx context.Context, bars []market.Bar) ([]bool, error) {
	closes := make([]any, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	req, err := structpb.NewStruct(map[string]any{"closes": closes})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, PredictMethod, req, resp); err != nil {
		c.log.Warn("predictor call failed", zap.Error(err))
		return nil, err
	}
	return decode(resp, len(bars))
}

func decode(resp *structpb.Struct, n int) ([]bool, error) {
	list := resp.GetFields()["predictions"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("decode response: missing predictions")
	}
	values := list.GetValues()
	if len(values) != n {
		return nil, fmt.Errorf("%w: got %d for %d bars", ErrLength, len(values), n)
	}
	out := make([]bool, n)
	for i, v := range values {
		switch k := v.GetKind().(type) {
		case *structpb.Value_BoolValue:
			out[i] = k.BoolValue
		case *structpb.Value_NumberValue:
			out[i] = k.NumberValue > 0.5
		}
	}
	return out, nil
}
