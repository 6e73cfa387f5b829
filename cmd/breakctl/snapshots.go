package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/OCAP2/breakage/internal/breaklog"
	"github.com/OCAP2/breakage/internal/storage/memory"
)

func readSnapshotFile(path string) (*breaklog.Snapshot, []byte, error) {
	data, err := memory.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	snap, err := breaklog.Unmarshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, data, nil
}

// inspectSnapshot prints a summary of a snapshot file followed by its
// event log.
func inspectSnapshot(out io.Writer, path string) error {
	snap, data, err := readSnapshotFile(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "file:        %s (%d bytes)\n", path, len(data))
	fmt.Fprintf(out, "version:     %d\n", snap.Version)
	fmt.Fprintf(out, "events:      %d\n", len(snap.Events))
	fmt.Fprintf(out, "objects:     %d\n", len(snap.Objects))
	fmt.Fprintf(out, "parts:       %d\n", len(snap.Parts))
	fmt.Fprintf(out, "vegetation:  %d\n", len(snap.Vegetation))
	fmt.Fprintf(out, "chunks:      %d\n", len(snap.Chunks))
	fmt.Fprintf(out, "removals:    %d\n", len(snap.Removals))
	fmt.Fprintf(out, "budget (KB): %d\n", snap.MemoryBudgetKB)
	if len(snap.Events) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKIND\tPARTICIPANT\tENTITY\tPART\tPOINT\tENERGY\tSTATE\tOBJECT")
	for i, ev := range snap.Events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t(%.2f, %.2f, %.2f)\t%.1f\t%s\t%d\n",
			i, ev.Kind, ev.Participant, ev.Entity, ev.Part,
			ev.Point.X, ev.Point.Y, ev.Point.Z, ev.Energy, ev.State, ev.ObjectIndex)
	}
	return tw.Flush()
}

// replaySnapshot rebuilds the yard from a snapshot file and runs the
// instant replay of every object touched before event until.
func replaySnapshot(ctx context.Context, out io.Writer, path string, until int) error {
	snap, _, err := readSnapshotFile(path)
	if err != nil {
		return err
	}

	y := buildYard()
	session, err := newYardSession(y, y.world)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(ctx); err != nil {
			Logger.Warn("Failed to close session", "error", err)
		}
	}()
	if err := session.Load(ctx, snap); err != nil {
		return err
	}

	if until < 0 || until > session.History().Events.Len() {
		until = session.History().Events.Len()
	}
	objects := session.ReplayObjects(until)
	engine := session.Replay()

	hidden := engine.HideByIndex(objects)
	defer engine.UnhideByIndex(objects)
	lookup := engine.CloneByIndex(objects)
	defer lookup.Release()

	applied, err := engine.ApplyUntil(ctx, 0, lookup, until)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "replayed %d of %d events on %d clones (%d originals hidden)\n\n",
		applied, until, lookup.Len(), hidden)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECT\tORIGINAL\tCURRENT\tAPPLIED\tFRAGMENTS")
	for _, obj := range lookup.Objects() {
		c, _ := lookup.Get(obj)
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", c.Object, c.Original, c.Geometry(), c.Applied, len(c.Fragments()))
	}
	return tw.Flush()
}

// exportSnapshot writes the newest stored snapshot of levelName to out, or
// to <level>.bsnap when out is empty.
func exportSnapshot(ctx context.Context, levelName, out string) error {
	backend, err := initStorage()
	if err != nil {
		return err
	}
	defer backend.Close()

	data, err := backend.LoadSnapshot(ctx, levelName)
	if err != nil {
		return err
	}
	if out == "" {
		out = levelName + ".bsnap"
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	Logger.Info("Exported snapshot", "level", levelName, "path", out, "size", len(data))
	return nil
}

// importSnapshot validates a snapshot file and stores it under levelName.
func importSnapshot(ctx context.Context, path, levelName string) error {
	_, data, err := readSnapshotFile(path)
	if err != nil {
		return err
	}

	backend, err := initStorage()
	if err != nil {
		return err
	}
	defer backend.Close()

	id, err := backend.SaveSnapshot(ctx, levelName, data)
	if err != nil {
		return err
	}
	Logger.Info("Imported snapshot", "level", levelName, "path", path, "id", id)
	return nil
}

func listSnapshots(ctx context.Context, out io.Writer, levelName string) error {
	backend, err := initStorage()
	if err != nil {
		return err
	}
	defer backend.Close()

	infos, err := backend.ListSnapshots(ctx, levelName)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLEVEL\tCREATED\tSIZE")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", info.ID, info.Level, info.CreatedAt.Format("2006-01-02 15:04:05"), info.Size)
	}
	return tw.Flush()
}
