package processor

import (
	"bytes"
	"context"
	"path"
	"time"

	"pyro/internal/encode"
	"pyro/internal/models"
	"pyro/internal/pkg/logger"
	"pyro/internal/ports"
	"pyro/internal/render"
)

// FrameKey is the object key a job's frame is stored under.
func FrameKey(jobID string, f encode.Format) string {
	return path.Join("frames", jobID, "frame."+f.Ext())
}

type output struct {
	sp ports.StorageProvider
}

func (o *output) store(ctx context.Context, jobID string, f encode.Format, frame render.PixelBuffer) (models.JobOutput, error) {
	data, err := encode.Bytes(f, frame)
	if err != nil {
		return models.JobOutput{}, err
	}

	res, err := o.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   FrameKey(jobID, f),
		ContentType: f.ContentType(),
		Reader:      bytes.NewReader(data),
		Size:        int64(len(data)),
	})
	if err != nil {
		return models.JobOutput{}, err
	}

	return models.JobOutput{
		Provider:    o.sp.Provider(),
		ObjectKey:   res.ObjectKey,
		ContentType: f.ContentType(),
		SizeBytes:   res.Size,
		Width:       frame.Width,
		Height:      frame.Height,
	}, nil
}

// discard deletes a stored frame that no job record refers to.
func (o *output) discard(ctx context.Context, objectKey string, log *logger.Logger) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.sp.DeleteObject(bg, objectKey); err != nil {
		log.Warn("orphaned frame not deleted", "object_key", objectKey, "error", err.Error())
	}
}
