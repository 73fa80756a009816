package chainstore

import (
	"github.com/coppernet/copperd/logger"
)

var log = logger.RegisterSubSystem("CHDB")
