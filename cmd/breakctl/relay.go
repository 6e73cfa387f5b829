package main

import (
	"context"
	"os"

	"github.com/OCAP2/breakage/internal/api"
	"github.com/spf13/viper"
)

func newRelayClient() *api.Client {
	return api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"))
}

// checkRelay pings the relay's healthcheck endpoint.
func checkRelay(ctx context.Context) error {
	if err := newRelayClient().Healthcheck(ctx); err != nil {
		return err
	}
	Logger.Info("Relay is reachable", "url", viper.GetString("api.serverUrl"))
	return nil
}

// uploadSnapshot validates a snapshot file and sends it to the relay.
func uploadSnapshot(ctx context.Context, path, levelName string) error {
	snap, _, err := readSnapshotFile(path)
	if err != nil {
		return err
	}
	host, _ := os.Hostname()
	meta := api.UploadMetadata{
		Level:   levelName,
		Events:  len(snap.Events),
		Objects: len(snap.Objects),
		Host:    host,
	}
	if err := newRelayClient().UploadSnapshot(ctx, path, meta); err != nil {
		return err
	}
	Logger.Info("Uploaded snapshot", "level", levelName, "path", path, "events", meta.Events)
	return nil
}
