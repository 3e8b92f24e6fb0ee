package api

import "github.com/MetalBlockchain/pulseprof/engine"

type PingReply struct {
	Success bool `json:"success"`
}

type VersionReply struct {
	Version string `json:"version"`
}

type ProfileReply struct {
	Report *engine.Report `json:"report"`
}
