package threadpool

import (
	"github.com/coppernet/copperd/logger"
	"github.com/coppernet/copperd/util/panics"
)

var log = logger.RegisterSubSystem("POOL")
var spawn = panics.GoroutineWrapperFunc(log)
