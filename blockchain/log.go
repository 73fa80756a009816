package blockchain

import (
	"github.com/coppernet/copperd/logger"
)

var log = logger.RegisterSubSystem("CHAN")
