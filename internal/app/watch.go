package app

import (
	"context"
	"encoding/json"
	"os"
)

// RunWatch performs a single watch run and prints the summary as JSON.
func (a *App) RunWatch(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	summary, err := a.newWatchService(store, nil).RunOnce(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
