package evaluation

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/interview-gateway/internal/resilience"
)

// EvaluateMethod is the full gRPC method name of the evaluation call.
// Messages are google.protobuf.Struct so no generated stubs are needed.
const EvaluateMethod = "/interview.v1.Evaluator/Evaluate"

// GRPCConfig configures the gRPC evaluator client
type GRPCConfig struct {
	Target     string
	Timeout    time.Duration
	TLSEnabled bool
}

// GRPCEvaluator calls the evaluation backend over gRPC
type GRPCEvaluator struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewGRPCEvaluator creates a client for cfg.Target. Extra dial options are
// appended after the defaults.
func NewGRPCEvaluator(cfg GRPCConfig, breaker *resilience.CircuitBreaker, logger zerolog.Logger, extra ...grpc.DialOption) (*GRPCEvaluator, error) {
	var opts []grpc.DialOption

	if cfg.TLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(cfg.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator client for %s: %w", cfg.Target, err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &GRPCEvaluator{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		timeout: cfg.Timeout,
		breaker: breaker,
		logger:  logger.With().Str("component", "evaluator").Str("transport", "grpc").Logger(),
	}, nil
}

// Evaluate sends the answer and decodes the next step
func (e *GRPCEvaluator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	token, err := bearer(ctx)
	if err != nil {
		return nil, err
	}

	in, err := structpb.NewStruct(map[string]any{
		"session_id":       req.SessionID,
		"prior_question":   req.PriorQuestion,
		"candidate_answer": req.Answer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode evaluation request: %w", err)
	}

	isFailure := backendFailure(ctx)
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)

	out := &structpb.Struct{}
	call := func() error {
		if err := e.conn.Invoke(ctx, EvaluateMethod, in, out); err != nil {
			if status.Code(err) == codes.Unauthenticated || status.Code(err) == codes.PermissionDenied {
				return fmt.Errorf("%w: %s", ErrUnauthenticated, status.Convert(err).Message())
			}
			switch status.Code(err) {
			case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.AlreadyExists:
				return fmt.Errorf("%w: %s", ErrRejected, status.Convert(err).Message())
			}
			return fmt.Errorf("evaluation call failed: %w", err)
		}
		return nil
	}

	if e.breaker != nil {
		err = e.breaker.CallClassified(call, isFailure)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	return decodeStruct(out)
}

// Ping checks the backend with the standard gRPC health service
func (e *GRPCEvaluator) Ping(ctx context.Context) (bool, error) {
	resp, err := e.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the connection
func (e *GRPCEvaluator) Close() error {
	return e.conn.Close()
}

func decodeStruct(out *structpb.Struct) (*Result, error) {
	fields := out.GetFields()
	result := &Result{
		NextQuestion: fields["next_question"].GetStringValue(),
		Complete:     fields["interview_complete"].GetBoolValue(),
		Feedback:     fields["feedback"].GetStringValue(),
	}

	if v, ok := fields["score"]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
			score := v.GetNumberValue()
			result.Score = &score
		}
	}

	if encoded := fields["audio_payload"].GetStringValue(); encoded != "" {
		audio, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode audio payload: %w", err)
		}
		result.Audio = audio
	}

	return result, nil
}
