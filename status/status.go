package status

import (
	"errors"
	"fmt"

	"github.com/MetalBlockchain/metalgo/vms/components/verify"
)

// List of possible status values:
// - [Unknown] The program has not been executed
// - [Succeeded] The entrypoint returned normally
// - [Failed] The program trapped or could not be instantiated
// - [ComputeExceeded] The program ran out of compute budget
const (
	Unknown         Status = 0
	Succeeded       Status = 1
	Failed          Status = 2
	ComputeExceeded Status = 3
)

var (
	errUnknownStatus = errors.New("unknown status")

	_ verify.Verifiable = Status(0)
	_ fmt.Stringer      = Status(0)
)

type Status uint32

// Verify that this is a valid status.
func (s Status) Verify() error {
	switch s {
	case Unknown, Succeeded, Failed, ComputeExceeded:
		return nil
	default:
		return errUnknownStatus
	}
}

func (s Status) String() string {
	switch s {
	case Unknown:
		return "Unknown"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	case ComputeExceeded:
		return "ComputeExceeded"
	default:
		return "Invalid status"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Unknown":
		*s = Unknown
	case "Succeeded":
		*s = Succeeded
	case "Failed":
		*s = Failed
	case "ComputeExceeded":
		*s = ComputeExceeded
	default:
		return fmt.Errorf("%w: %q", errUnknownStatus, text)
	}
	return nil
}
