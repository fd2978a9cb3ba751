package app

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/ariesdb/src/cfg"
	"github.com/Blackdeer1524/ariesdb/src/pkg/utils"
)

// NewLogger builds the process logger. Every line carries the run id so
// that the output of consecutive restarts can be told apart.
func NewLogger(env cfg.Environment) *zap.SugaredLogger {
	var log *zap.Logger
	if env == cfg.EnvDev {
		log = utils.Must(zap.NewDevelopment())
	} else {
		log = utils.Must(zap.NewProduction())
	}

	return log.Sugar().With("run_id", uuid.NewString())
}
