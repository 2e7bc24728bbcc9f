package archive

import (
	"errors"
	"strconv"
	"time"

	"github.com/sony/sonyflake"
)

// IDGenerator hands out ids for events that do not carry their own
type IDGenerator interface {
	NextID() (string, error)
}

// FlakeIDs generates time-ordered sonyflake ids
type FlakeIDs struct {
	sf *sonyflake.Sonyflake
}

var flakeEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewFlakeIDs creates a generator for the given machine id. Passing the id
// explicitly keeps sonyflake from probing for a private IP, which fails in
// many containers.
func NewFlakeIDs(machineID uint16) (*FlakeIDs, error) {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: flakeEpoch,
		MachineID: func() (uint16, error) { return machineID, nil },
	})
	if sf == nil {
		return nil, errors.New("archive: sonyflake init failed")
	}
	return &FlakeIDs{sf: sf}, nil
}

func (f *FlakeIDs) NextID() (string, error) {
	id, err := f.sf.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(id, 10), nil
}
