package vm

import (
	"fmt"
	"net/http"

	"github.com/MetalBlockchain/metalgo/utils/formatting"
	"github.com/MetalBlockchain/pulseprof/api"
	"github.com/MetalBlockchain/pulseprof/constants"
	"go.uber.org/zap"
)

const (
	Endpoint = "/rpc"
)

type Service struct {
	vm *VM
}

func (svc *Service) Ping(_ *http.Request, _ *struct{}, response *api.PingReply) (err error) {
	svc.vm.log.Info("API called", zap.String("service", constants.ServiceName), zap.String("method", "ping"))

	response.Success = true

	return nil
}

func (svc *Service) Version(r *http.Request, _ *struct{}, response *api.VersionReply) (err error) {
	svc.vm.log.Debug("API called", zap.String("service", constants.ServiceName), zap.String("method", "version"))

	response.Version, err = svc.vm.Version(r.Context())
	return err
}

// Profile runs the submitted program and replies with its profiling report.
// Guest faults are part of the report; only programs that can't be run at
// all produce an RPC error.
func (svc *Service) Profile(r *http.Request, args *api.ProfileArgs, response *api.ProfileReply) (err error) {
	svc.vm.log.Info("API called",
		zap.String("service", constants.ServiceName),
		zap.String("method", "profile"),
		zap.Int("encodedSize", len(args.Program)),
		zap.Uint64("computeBudget", args.ComputeBudget),
	)

	code, err := formatting.Decode(args.Encoding, args.Program)
	if err != nil {
		return fmt.Errorf("problem decoding program: %w", err)
	}

	report, err := svc.vm.Profile(r.Context(), code, args.ComputeBudget)
	if err != nil {
		svc.vm.log.Debug("failed to profile program",
			zap.Error(err),
		)
		return err
	}

	response.Report = report
	return nil
}
