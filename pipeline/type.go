package pipeline

import (
	"time"

	"gocv.io/x/gocv"

	"github.com/sentryvision/sv-go/service/config"
	"github.com/sentryvision/sv-go/service/data"
	"github.com/sentryvision/sv-go/service/notify"
	"github.com/sentryvision/sv-go/service/provider"
	"github.com/sentryvision/sv-go/service/storage"
)

// FrameData is one captured frame in flight from a source pump to its
// handlers. The pump owns the Mat and reuses it across reads: handlers
// are invoked synchronously, must treat the Mat as read-only and must
// clone it before retaining or mutating it.
type FrameData struct {
	Mat       gocv.Mat
	Seq       uint64
	Timestamp time.Time
}

// Handler receives frames from one source pump. Frames arrive strictly
// in read order with monotonically increasing sequence numbers; no
// ordering holds across sources. A panicking or erroring handler is
// isolated: it is reported on the error stream and sibling handlers
// still run.
type Handler func(sourceID string, frame FrameData) error

// ServicesFactory carries the collaborator services the pipeline needs.
type ServicesFactory struct {
	CfgSvc      config.IService
	DataSvc     data.IService
	StorageSvc  storage.IService
	NotifySvc   notify.IService
	ProviderSvc provider.IService
}
