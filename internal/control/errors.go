package control

import (
	"errors"
	"fmt"
)

// ErrConfig is matched by every ConfigError.
var ErrConfig = errors.New("configuration error")

// ConfigError reports an experiment setting that cannot be used: an unknown
// key, an out-of-range value or a missing required value. It is always
// raised before integration starts.
type ConfigError struct {
	Key    string
	Value  float64
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s=%g: %s", e.Key, e.Value, e.Reason)
}

// Is lets errors.Is(err, ErrConfig) match any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}
