package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"tmengine/internal/model"
	"tmengine/internal/normalize"
)

// SaveChannel replaces the source segments of a channel for one source
// language. Segments without a GUID get one derived from rid, sid and nsrc.
func (d *DB) SaveChannel(ctx context.Context, channel, sourceLang string, segments []*model.TU) error {
	db := d.Handle()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM segments WHERE channel = ? AND source_lang = ?", channel, sourceLang); err != nil {
		return fmt.Errorf("failed to clear channel segments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO segments (channel, source_lang, guid, rid, sid, prj, seq, segment_props)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare segment insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, in := range segments {
		seg := sourceSide(in)
		if seg.GUID == "" {
			seg.GUID = normalize.SourceGUID(seg.RID, seg.SID, seg.NSrc)
		}
		props, err := json.Marshal(seg)
		if err != nil {
			return fmt.Errorf("failed to encode segment %s: %w", seg.GUID, err)
		}
		if _, err := stmt.ExecContext(ctx, channel, sourceLang, seg.GUID, seg.RID, seg.SID, seg.Prj, seg.Seq, string(props)); err != nil {
			return fmt.Errorf("failed to insert segment %s: %w", seg.GUID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ChannelSegments returns the stored segments of a channel.
func (d *DB) ChannelSegments(ctx context.Context, channel, sourceLang string) ([]*model.TU, error) {
	repo := &TURepo{db: d.Handle()}
	tus, err := repo.queryTUs(ctx,
		"SELECT segment_props FROM segments WHERE channel = ? AND source_lang = ? ORDER BY prj, rid, seq, sid",
		channel, sourceLang)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel segments: %w", err)
	}
	return tus, nil
}

// sourceSide copies the source fields of a TU.
func sourceSide(tu *model.TU) *model.TU {
	return &model.TU{
		GUID:  tu.GUID,
		RID:   tu.RID,
		SID:   tu.SID,
		NSrc:  tu.NSrc,
		Prj:   tu.Prj,
		Notes: tu.Notes,
		NID:   tu.NID,
		Seq:   tu.Seq,
	}
}
