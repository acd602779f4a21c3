package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"locker-status-backend/internal/board"
	"locker-status-backend/internal/export"
	"locker-status-backend/internal/locker"
	"locker-status-backend/internal/mirror"
)

func exportBoard(ctx context.Context, configPath, out string, showInactive bool) error {
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	be, err := openLockers(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	m := mirror.New(log)
	syncer := mirror.NewSyncer(be.table, m, log, nil)
	if err := syncer.Refresh(ctx, false); err != nil {
		return err
	}
	syncer.Close()

	records := locker.Apply(m.Snapshot(), locker.Filter{ShowInactive: showInactive})
	buckets := locker.NewGrouper(cfg.Board.PreferredGroups).Group(records)

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := export.WriteBoard(f, buckets, locker.Summarize(records)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Info("board exported", zap.String("file", out), zap.Int("lockers", len(records)))
	return nil
}

func seedLockers(ctx context.Context, configPath, codes, group string) error {
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	be, err := openLockers(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	m := mirror.New(log)
	syncer := mirror.NewSyncer(be.table, m, log, nil)
	if err := syncer.Refresh(ctx, false); err != nil {
		return err
	}
	syncer.Close()

	gw := board.NewGateway(be.table, m, nil, nil, log)
	res, err := gw.CreateLockers(board.WithActor(ctx, "lockerd seed"), codes, group)
	fmt.Printf("created %d, skipped %d\n", len(res.Created), len(res.Skipped))
	return err
}
