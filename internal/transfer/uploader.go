package transfer

import (
	"context"

	"lathe/internal/client"
)

// DaemonUploader submits files to a running lathe daemon, one batch per
// uploaded file.
type DaemonUploader struct {
	Client *client.Client
	Kind   string
	Detail string
}

func (u *DaemonUploader) Upload(ctx context.Context, path string, report func(percent float64)) (string, error) {
	resp, err := u.Client.SubmitFile(ctx, path, u.Kind, u.Detail, func(sent, total int64) {
		if report == nil || total <= 0 {
			return
		}
		report(float64(sent) / float64(total) * 100)
	})
	if err != nil {
		return "", err
	}
	return resp.Batch.ID, nil
}
