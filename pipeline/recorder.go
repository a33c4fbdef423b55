package pipeline

import (
	"fmt"
	"image"
	"log/slog"
	"time"

	xerrors "github.com/mdobak/go-xerrors"
	"gocv.io/x/gocv"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/lgr"
	"github.com/sentryvision/sv-go/service/storage"
)

// clipWriter is the narrow slice of gocv.VideoWriter the recorder
// needs; tests substitute a scripted writer.
type clipWriter interface {
	Write(frame gocv.Mat) error
	Close() error
}

type clipWriterFactory func(path string, fps, width, height int) (clipWriter, error)

type mp4ClipWriter struct {
	writer *gocv.VideoWriter
}

func newMP4ClipWriter(path string, fps, width, height int) (clipWriter, error) {
	writer, err := gocv.VideoWriterFile(path, "avc1", float64(fps), width, height, true)
	if err != nil {
		return nil, err
	}
	return &mp4ClipWriter{writer: writer}, nil
}

func (w *mp4ClipWriter) Write(frame gocv.Mat) error {
	return w.writer.Write(frame)
}

func (w *mp4ClipWriter) Close() error {
	return w.writer.Close()
}

// frameRing is a fixed-capacity drop-oldest frame queue. Length never
// exceeds the capacity after any insertion.
type frameRing struct {
	frames []FrameData
	head   int
	count  int
}

func newFrameRing(capacity int) *frameRing {
	return &frameRing{
		frames: make([]FrameData, capacity),
	}
}

func (r *frameRing) add(frame FrameData) {
	if len(r.frames) == 0 {
		frame.Mat.Close()
		return
	}
	if r.count == len(r.frames) {
		oldest := &r.frames[r.head]
		oldest.Mat.Close()
		*oldest = frame
		r.head = (r.head + 1) % len(r.frames)
		return
	}
	r.frames[(r.head+r.count)%len(r.frames)] = frame
	r.count++
}

// drain hands back the buffered frames in chronological order and
// empties the ring; ownership of the Mats moves to the caller.
func (r *frameRing) drain() []FrameData {
	out := make([]FrameData, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.frames[(r.head+i)%len(r.frames)])
	}
	r.head = 0
	r.count = 0
	return out
}

func (r *frameRing) len() int {
	return r.count
}

func (r *frameRing) close() {
	for _, f := range r.drain() {
		f.Mat.Close()
	}
}

// BufferedRecorder keeps the last bufferSeconds of frames in memory so
// an evidence clip can include the lead-up to the event, then keeps
// recording for a post-event window. It is owned by one source's
// handler; no synchronization.
type BufferedRecorder struct {
	source     model.Source
	storageSvc storage.IService

	fps     int
	folder  string
	ring    *frameRing
	newClip clipWriterFactory

	clip          clipWriter
	clipPath      string
	clipURL       string
	postRemaining int

	stats     model.RecorderStats
	startTime time.Time
}

func NewBufferedRecorder(source model.Source, bufferSeconds int, recordingsFolder string, storageSvc storage.IService) *BufferedRecorder {
	fps := source.FPS
	if fps <= 0 {
		fps = 10
	}
	return &BufferedRecorder{
		source:     source,
		storageSvc: storageSvc,
		fps:        fps,
		folder:     recordingsFolder,
		ring:       newFrameRing(bufferSeconds * fps),
		newClip:    newMP4ClipWriter,
		stats: model.RecorderStats{
			Name:   "bufferedRecorder",
			Source: source.ID,
		},
		startTime: time.Now(),
	}
}

// AddFrame buffers one frame, evicting the oldest when full. The
// recorder clones the Mat so the pump can reuse its read buffer.
func (r *BufferedRecorder) AddFrame(frame FrameData) {
	r.ring.add(FrameData{
		Mat:       frame.Mat.Clone(),
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
	})
}

// Active reports whether a continuation recording is in flight.
func (r *BufferedRecorder) Active() bool {
	return r.clip != nil
}

// BufferedLen is the current ring occupancy.
func (r *BufferedRecorder) BufferedLen() int {
	return r.ring.len()
}

// Trigger drains the buffer in chronological order into a new clip and
// switches to continuation mode for postEventSeconds worth of frames.
// A second trigger while a continuation is active is rejected.
func (r *BufferedRecorder) Trigger(eventID string, postEventSeconds int) (string, error) {
	if r.Active() {
		return "", xerrors.New("recorder already capturing an event")
	}

	buffered := r.ring.drain()
	if len(buffered) == 0 {
		return "", xerrors.New("no frames buffered")
	}
	defer func() {
		for _, f := range buffered {
			f.Mat.Close()
		}
	}()

	first := buffered[0].Mat
	path := fmt.Sprintf("%s/%s_evidence.mp4", r.folder, eventID)
	clip, err := r.newClip(path, r.fps, first.Cols(), first.Rows())
	if err != nil {
		r.stats.Errors++
		return "", err
	}

	for _, f := range buffered {
		if err := r.writeFrame(clip, f.Mat, first.Cols(), first.Rows()); err != nil {
			r.stats.Errors++
			clip.Close()
			return "", err
		}
		r.stats.Frames++
	}

	r.clip = clip
	r.clipPath = path
	r.postRemaining = postEventSeconds * r.fps
	if r.postRemaining == 0 {
		r.finalize()
	}

	lgr.Logger.Info(
		"evidence clip triggered",
		slog.String("source", r.source.ID),
		slog.String("clip", path),
		slog.Int("bufferedFrames", len(buffered)),
	)
	return path, nil
}

// WriteContinuationFrame appends one post-trigger frame. It reports
// whether the continuation is still active; the clip is finalized once
// the post-event window is exhausted.
func (r *BufferedRecorder) WriteContinuationFrame(frame FrameData) bool {
	if !r.Active() {
		return false
	}

	if err := r.writeFrame(r.clip, frame.Mat, 0, 0); err != nil {
		r.stats.Errors++
	} else {
		r.stats.Frames++
	}

	r.postRemaining--
	if r.postRemaining <= 0 {
		r.finalize()
		return false
	}
	return true
}

// ClipURL is the uploaded location of the last finalized clip, empty
// when the upload soft-failed or no clip exists yet.
func (r *BufferedRecorder) ClipURL() string {
	return r.clipURL
}

// Stats snapshots the recorder counters.
func (r *BufferedRecorder) Stats() model.RecorderStats {
	stats := r.stats
	stats.Uptime = int64(time.Since(r.startTime).Seconds())
	return stats
}

func (r *BufferedRecorder) writeFrame(clip clipWriter, mat gocv.Mat, width, height int) error {
	if width > 0 && height > 0 && (mat.Cols() != width || mat.Rows() != height) {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
		return clip.Write(resized)
	}
	return clip.Write(mat)
}

// finalize closes the clip and hands it to the evidence store. Upload
// failure is a soft-fail: the local clip and its record survive with
// the remote reference absent.
func (r *BufferedRecorder) finalize() {
	if err := r.clip.Close(); err != nil {
		r.stats.Errors++
		lgr.Logger.Error("error finalizing clip", slog.Any("error", err))
	}
	r.clip = nil
	r.stats.Clips++

	r.clipURL = ""
	if r.storageSvc != nil {
		url, err := r.storageSvc.StoreFile(r.clipPath)
		if err != nil {
			r.stats.Errors++
			lgr.Logger.Error(
				"error uploading clip, keeping local copy",
				slog.String("clip", r.clipPath),
				slog.Any("error", err),
			)
		} else {
			r.clipURL = url
		}
	}
}

// Close abandons any in-flight continuation and releases buffered Mats.
func (r *BufferedRecorder) Close() {
	if r.Active() {
		r.finalize()
	}
	r.ring.close()
}
