package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
	"github.com/wpfleet/wpfleet/pkg/objstore"
)

// runUpload pushes the bundle to the remote store and verifies the
// stored size. The object key embeds node and site UUIDs so reconcile
// can walk the bucket by prefix.
//
// A second quota check runs here with the actual bundle size: the
// job-start check only had an estimate, and a site that grew past it
// must not upload over quota.
func (e *Engine) runUpload(ctx context.Context, job *Job, report bytesFn) error {
	if _, err := e.client.Preflight(ctx, job.Site.ID, job.bundleSize); err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.IsQuotaExceeded() {
			return fail(KindQuotaExceeded, stageUpload, err)
		}
		return classify(err, stageUpload, KindTransient)
	}

	storageCfg, err := e.storageConfig(ctx)
	if err != nil {
		return fail(KindConfig, stageUpload, err)
	}

	release, err := e.gov.AcquireNet(ctx)
	if err != nil {
		return classify(err, stageUpload, KindTransient)
	}
	defer release()

	uctx, cancel := context.WithTimeout(ctx, e.cfg.UploadTimeout)
	defer cancel()

	store, err := objstore.New(uctx, objstore.Config{
		Bucket:         storageCfg.Bucket,
		Region:         storageCfg.Region,
		Endpoint:       storageCfg.Endpoint,
		AccessKey:      storageCfg.AccessKey,
		SecretKey:      storageCfg.SecretKey,
		ForcePathStyle: storageCfg.ForcePathStyle,
		Throttle:       e.gov.WaitUpload,
	})
	if err != nil {
		return fail(KindConfig, stageUpload, fmt.Errorf("build storage client: %w", err))
	}

	job.objectKey = objstore.ObjectKey(storageCfg.NodeUUID, job.Site.UUID, job.bundleName)

	err = store.UploadFile(uctx, job.objectKey, job.bundlePath, func(sent, total int64) {
		report(sent, total)
	})
	if err != nil {
		if ctx.Err() != nil {
			return classify(ctx.Err(), stageUpload, KindCancelled)
		}
		if uctx.Err() == context.DeadlineExceeded {
			return fail(KindTransient, stageUpload, fmt.Errorf("upload timed out after %s", e.cfg.UploadTimeout))
		}
		return fail(KindTransient, stageUpload, err)
	}

	info, err := store.StatObject(uctx, job.objectKey)
	if err != nil {
		return fail(KindTransient, stageUpload, fmt.Errorf("verify upload: %w", err))
	}
	if info.SizeBytes != job.bundleSize {
		return fail(KindIntegrity, stageUpload,
			fmt.Errorf("stored object is %d bytes, bundle was %d", info.SizeBytes, job.bundleSize))
	}

	if e.metrics != nil {
		e.metrics.AddUploadBytes(job.bundleSize)
	}
	logger.Info("Bundle uploaded",
		"site", job.Site.Name,
		"key", job.objectKey,
		"bytes", job.bundleSize,
	)
	return nil
}
