package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/attachments"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

const defaultPendingList = 10

func (a *App) Enqueue(ctx context.Context, args []string) error {
	if len(args) < 4 {
		printlnFn("Usage: enqueue <path> <scheduleId> <photoType> <technicianId> [signer]")
		return nil
	}
	meta := attachments.Metadata{
		ScheduleID:   args[1],
		PhotoType:    models.PhotoType(args[2]),
		TechnicianID: args[3],
		Timestamp:    time.Now().UTC(),
	}
	if len(args) > 4 {
		meta.SignerName = args[4]
	}

	sc, err := a.schedules.Get(ctx, meta.ScheduleID)
	switch {
	case err == nil:
		meta.JobTitle = sc.Title
		meta.StartDate = sc.StartDate
	case !errors.Is(err, common.ErrNotFound):
		return err
	}

	rec, err := a.queue.Enqueue(ctx, args[0], meta)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("queued %s as %s", args[0], rec.Filename))

	if a.currentMode() == ModeOnline {
		a.host.Start()
	}
	return nil
}

func (a *App) Pending(ctx context.Context, args []string) error {
	limit := defaultPendingList
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			printlnFn("Usage: pending [n]")
			return nil
		}
		limit = n
	}

	recs, err := a.queue.ListPending(ctx, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		printlnFn("queue is empty")
		return nil
	}
	for _, rec := range recs {
		line := fmt.Sprintf("%s  %-13s  %-9s  schedule=%s attempts=%d", rec.ID, rec.State, rec.PhotoType, rec.ScheduleID, rec.Attempts)
		if rec.LastError != "" {
			line += "  last_error=" + rec.LastError
		}
		printlnFn(line)
	}
	return nil
}

func (a *App) Count(ctx context.Context) error {
	n, err := a.queue.PendingCount(ctx)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("pending: %d", n))
	return nil
}

func (a *App) StartUploads(ctx context.Context) error {
	if a.host.Start() {
		printlnFn("uploads started")
	} else {
		printlnFn("uploads already running")
	}
	return nil
}

func (a *App) StopUploads(ctx context.Context) error {
	a.host.Stop()
	printlnFn("uploads stopped")
	return nil
}

func (a *App) Status(ctx context.Context) error {
	s := a.host.Session()
	line := fmt.Sprintf("uploads: %s %d/%d (%.0f%%), remaining %d", s.Status, s.Uploaded, s.TotalAtStart, s.Progress()*100, s.Remaining)
	if s.Rejected > 0 {
		line += fmt.Sprintf(", rejected %d", s.Rejected)
	}
	if s.Err != "" {
		line += ", error: " + s.Err
	}
	printlnFn(line)

	changes, err := a.repos.Changes().Count(ctx)
	if err != nil {
		return err
	}
	drained, err := a.repos.Metadata().GetTime(ctx, common.MetaLastDrainedAt)
	if err != nil {
		return err
	}
	last := "never"
	if !drained.IsZero() {
		last = drained.Local().Format(time.DateTime)
	}
	printlnFn(fmt.Sprintf("change log: %d unapplied, last drained %s", changes, last))
	printlnFn(fmt.Sprintf("device: %s, %s", a.deviceID, a.currentMode()))
	return nil
}

func (a *App) Drain(ctx context.Context) error {
	rep, err := a.connector.Drain(ctx)
	printlnFn(fmt.Sprintf("replayed %d batches: %d applied, %d rejected, %d pending", rep.Batches, rep.Applied, rep.Rejected, rep.Pending))
	return err
}

func (a *App) DeleteSchedule(ctx context.Context, args []string) error {
	if len(args) != 1 {
		printlnFn("Usage: delete-schedule <id>")
		return nil
	}
	removed, err := a.schedules.Delete(ctx, args[0])
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("schedule %s deleted, %d queued attachments dropped", args[0], removed))
	return nil
}
