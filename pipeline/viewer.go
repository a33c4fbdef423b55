package pipeline

import (
	"log/slog"

	"github.com/hybridgroup/mjpeg"
	"gocv.io/x/gocv"

	"github.com/sentryvision/sv-go/service/lgr"
)

// NewLiveViewHandler mirrors a source's frames onto an MJPEG stream for
// browser preview. Encode failures are logged and skipped so the live
// view never disturbs the detection path.
func NewLiveViewHandler(stream *mjpeg.Stream) Handler {
	return func(sourceID string, frame FrameData) error {
		buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame.Mat)
		if err != nil {
			lgr.Logger.Debug(
				"error encoding live view frame",
				slog.String("source", sourceID),
				slog.Any("error", err),
			)
			return nil
		}
		defer buf.Close()

		stream.UpdateJPEG(buf.GetBytes())
		return nil
	}
}
