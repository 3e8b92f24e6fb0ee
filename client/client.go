package client

import (
	"context"
	"fmt"

	"github.com/MetalBlockchain/metalgo/utils/formatting"
	"github.com/MetalBlockchain/metalgo/utils/rpc"
	"github.com/MetalBlockchain/pulseprof/api"
	"github.com/MetalBlockchain/pulseprof/constants"
	"github.com/MetalBlockchain/pulseprof/engine"
	"github.com/MetalBlockchain/pulseprof/vm"
)

type Client interface {
	// Pings the server.
	Ping(ctx context.Context) (bool, error)
	// Returns the server version.
	Version(ctx context.Context) (string, error)
	// Runs a compiled guest program and returns its profiling report.
	// A zero computeBudget uses the server's default.
	Profile(ctx context.Context, program []byte, computeBudget uint64) (*engine.Report, error)
}

// New creates a new client object.
func New(uri string) Client {
	req := rpc.NewEndpointRequester(
		fmt.Sprintf("%s%s", uri, vm.Endpoint),
	)
	return &client{req: req}
}

type client struct {
	req rpc.EndpointRequester
}

func (cli *client) Ping(ctx context.Context) (bool, error) {
	resp := new(api.PingReply)
	err := cli.req.SendRequest(ctx,
		constants.ServiceName+".ping",
		struct{}{},
		resp,
	)
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (cli *client) Version(ctx context.Context) (string, error) {
	resp := new(api.VersionReply)
	err := cli.req.SendRequest(ctx,
		constants.ServiceName+".version",
		struct{}{},
		resp,
	)
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

func (cli *client) Profile(ctx context.Context, program []byte, computeBudget uint64) (*engine.Report, error) {
	encoded, err := formatting.Encode(formatting.Hex, program)
	if err != nil {
		return nil, fmt.Errorf("couldn't encode program: %w", err)
	}

	resp := new(api.ProfileReply)
	err = cli.req.SendRequest(ctx,
		constants.ServiceName+".profile",
		&api.ProfileArgs{
			FormattedProgram: api.FormattedProgram{
				Program:  encoded,
				Encoding: formatting.Hex,
			},
			ComputeBudget: computeBudget,
		},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return resp.Report, nil
}
