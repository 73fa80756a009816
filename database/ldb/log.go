package ldb

import (
	"github.com/coppernet/copperd/logger"
)

var log = logger.RegisterSubSystem("LVDB")
