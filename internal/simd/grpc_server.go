package simd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/control"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/experiment"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/logger"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ExperimentServiceName is the fully qualified gRPC service name.
const ExperimentServiceName = "fedbatch.v1.ExperimentService"

// ExperimentServiceServer is the server API of the experiment service. Every
// message is a google.protobuf.Struct so clients need no generated code.
type ExperimentServiceServer interface {
	ScoreExperiment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateExperiment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetExperiment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopExperiment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFactors(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(ExperimentServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call structMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExperimentServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ExperimentServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ExperimentServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ExperimentServiceDesc describes the experiment service for grpc.Server.
var ExperimentServiceDesc = grpc.ServiceDesc{
	ServiceName: ExperimentServiceName,
	HandlerType: (*ExperimentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ScoreExperiment", ExperimentServiceServer.ScoreExperiment),
		unaryHandler("CreateExperiment", ExperimentServiceServer.CreateExperiment),
		unaryHandler("GetExperiment", ExperimentServiceServer.GetExperiment),
		unaryHandler("StopExperiment", ExperimentServiceServer.StopExperiment),
		unaryHandler("ListFactors", ExperimentServiceServer.ListFactors),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fedbatch/v1/experiment.proto",
}

// RegisterExperimentServiceServer registers srv on s.
func RegisterExperimentServiceServer(s grpc.ServiceRegistrar, srv ExperimentServiceServer) {
	s.RegisterService(&ExperimentServiceDesc, srv)
}

// ExperimentClient calls the experiment service over a client connection.
type ExperimentClient struct {
	cc grpc.ClientConnInterface
}

func NewExperimentClient(cc grpc.ClientConnInterface) *ExperimentClient {
	return &ExperimentClient{cc: cc}
}

func (c *ExperimentClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ExperimentServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ExperimentClient) ScoreExperiment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ScoreExperiment", in, opts...)
}

func (c *ExperimentClient) CreateExperiment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "CreateExperiment", in, opts...)
}

func (c *ExperimentClient) GetExperiment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetExperiment", in, opts...)
}

func (c *ExperimentClient) StopExperiment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StopExperiment", in, opts...)
}

func (c *ExperimentClient) ListFactors(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListFactors", in, opts...)
}

// ExperimentGRPCServer implements ExperimentServiceServer using a RunStore
// backend.
type ExperimentGRPCServer struct {
	store    *RunStore
	Executor *RunExecutor
}

func NewExperimentGRPCServer(store *RunStore, executor *RunExecutor) *ExperimentGRPCServer {
	return &ExperimentGRPCServer{
		store:    store,
		Executor: executor,
	}
}

func (s *ExperimentGRPCServer) ScoreExperiment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	overrides, err := overridesFrom(req)
	if err != nil {
		return nil, err
	}
	res, err := s.Executor.Score(ctx, overrides)
	if err != nil {
		kind := classify(err)
		return nil, status.Errorf(grpcCode(kind), "%s: %v", kind, err)
	}

	out := resultMap(res)
	if req.GetFields()["include_dataset"].GetBoolValue() {
		out["dataset"] = datasetMap(res.Dataset)
	}
	return newStruct(out)
}

func (s *ExperimentGRPCServer) CreateExperiment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	overrides, err := overridesFrom(req)
	if err != nil {
		return nil, err
	}
	if _, err := control.Merge(overrides); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	runID := req.GetFields()["run_id"].GetStringValue()
	rec, err := s.store.Create(runID, overrides, Callback{})
	if err != nil {
		if errors.Is(err, ErrRunExists) {
			return nil, status.Error(codes.AlreadyExists, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	if rec, err = s.Executor.Start(rec.Run.ID); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	logger.Info("experiment created (gRPC)", "run_id", rec.Run.ID)
	return newStruct(map[string]any{"experiment": runMap(rec.Run)})
}

func (s *ExperimentGRPCServer) GetExperiment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID := req.GetFields()["run_id"].GetStringValue()
	if runID == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		return nil, status.Error(codes.NotFound, "experiment not found")
	}
	out := map[string]any{"experiment": runMap(rec.Run)}
	if req.GetFields()["include_dataset"].GetBoolValue() && rec.Dataset != nil {
		out["dataset"] = datasetMap(rec.Dataset)
	}
	return newStruct(out)
}

func (s *ExperimentGRPCServer) StopExperiment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec, err := s.Executor.Stop(req.GetFields()["run_id"].GetStringValue())
	if err != nil {
		switch {
		case errors.Is(err, ErrRunNotFound):
			return nil, status.Error(codes.NotFound, err.Error())
		case errors.Is(err, ErrRunIDMissing):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, ErrRunTerminal):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}
	return newStruct(map[string]any{"experiment": runMap(rec.Run)})
}

func (s *ExperimentGRPCServer) ListFactors(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	days := control.DefaultFeedDays
	if v, ok := req.GetFields()["days"]; ok {
		days = int(v.GetNumberValue())
		if days < 1 || days > 366 {
			return nil, status.Error(codes.InvalidArgument, "days must be in [1, 366]")
		}
	}
	factors := control.Factors(days)
	list := make([]any, len(factors))
	for i, f := range factors {
		list[i] = map[string]any{
			"key":         f.Key,
			"lower":       f.Lower,
			"upper":       f.Upper,
			"default":     f.Default,
			"unit":        f.Unit,
			"description": f.Description,
		}
	}
	objectives := make([]any, 0, len(experiment.ObjectiveTypes()))
	for _, o := range experiment.ObjectiveTypes() {
		objectives = append(objectives, string(o))
	}
	return newStruct(map[string]any{"factors": list, "objectives": objectives})
}

// overridesFrom reads the optional "overrides" object of a request.
func overridesFrom(req *structpb.Struct) (map[string]float64, error) {
	v, ok := req.GetFields()["overrides"]
	if !ok {
		return nil, nil
	}
	obj := v.GetStructValue()
	if obj == nil {
		return nil, status.Error(codes.InvalidArgument, "overrides must be an object")
	}
	out := make(map[string]float64, len(obj.GetFields()))
	for k, fv := range obj.GetFields() {
		n, ok := fv.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "override %s must be a number", k)
		}
		out[k] = n.NumberValue
	}
	return out, nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

func floatMap(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func datasetMap(ds models.Dataset) map[string]any {
	out := make(map[string]any, len(ds))
	for k, series := range ds {
		vals := make([]any, len(series))
		for i, v := range series {
			vals[i] = v
		}
		out[k] = vals
	}
	return out
}

func solverMap(s *models.SolverSummary) map[string]any {
	warnings := make([]any, len(s.Warnings))
	for i, w := range s.Warnings {
		warnings[i] = w
	}
	return map[string]any{
		"steps":      s.Steps,
		"rejected":   s.Rejected,
		"func_evals": s.FuncEvals,
		"jac_evals":  s.JacEvals,
		"warnings":   warnings,
	}
}

func resultMap(res *experiment.Result) map[string]any {
	out := map[string]any{
		"id":          res.ID,
		"objective":   res.Objective,
		"score":       res.Score,
		"titer":       res.Titer,
		"settings":    floatMap(res.Settings.Map()),
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Solver != nil {
		out["solver"] = solverMap(res.Solver)
	}
	return out
}

func runMap(run models.ExperimentRun) map[string]any {
	out := map[string]any{
		"id":         run.ID,
		"status":     string(run.Status),
		"created_at": run.CreatedAt.Format(time.RFC3339Nano),
	}
	if run.Overrides != nil {
		out["overrides"] = floatMap(run.Overrides)
	}
	if run.Settings != nil {
		out["settings"] = floatMap(run.Settings)
	}
	if run.Objective != "" {
		out["objective"] = run.Objective
	}
	if run.Score != nil {
		out["score"] = *run.Score
	}
	if !run.StartedAt.IsZero() {
		out["started_at"] = run.StartedAt.Format(time.RFC3339Nano)
	}
	if !run.EndedAt.IsZero() {
		out["ended_at"] = run.EndedAt.Format(time.RFC3339Nano)
	}
	if run.Error != "" {
		out["error"] = run.Error
		out["error_kind"] = string(run.ErrorKind)
	}
	if run.Solver != nil {
		out["solver"] = solverMap(run.Solver)
	}
	return out
}
