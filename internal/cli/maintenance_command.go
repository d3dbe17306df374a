package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"

	"github.com/yungbote/podscribe-backend/internal/app"
)

func runMaintenance(args []string) error {
	if len(args) == 0 {
		printMaintenanceUsage()
		return nil
	}
	switch args[0] {
	case "cleanup-audio", "channel-stats":
	case "reindex":
		if _, err := parseIDArg(args[1:], "episode"); err != nil {
			return err
		}
	default:
		printMaintenanceUsage()
		return fmt.Errorf("unknown maintenance command %q", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	svc := a.Services.Maintenance

	switch args[0] {
	case "cleanup-audio":
		var errs *multierror.Error
		local, err := svc.CleanupAudio(ctx)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		remote, err := svc.CleanupRemoteAudio(ctx)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		fmt.Printf("removed %d local and %d staged audio files\n", local, remote)
		return errs.ErrorOrNil()
	case "channel-stats":
		n, err := svc.RecountChannels(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("updated %d channels\n", n)
	case "reindex":
		id, _ := parseIDArg(args[1:], "episode")
		n, err := svc.ReindexEpisode(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("indexed %d chunks for episode %s\n", n, id)
	}
	return nil
}

func printMaintenanceUsage() {
	fmt.Println("usage: podctl maintenance cleanup-audio")
	fmt.Println("       podctl maintenance channel-stats")
	fmt.Println("       podctl maintenance reindex <episode-id>")
}
