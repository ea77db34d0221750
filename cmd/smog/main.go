package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/torfstack/smog/internal/config"
	"github.com/torfstack/smog/internal/db"
	"github.com/torfstack/smog/internal/logging"
	"github.com/torfstack/smog/internal/service"
)

type syncFlags struct {
	backend     string
	concurrency int
	watch       bool
}

func main() {
	var rootCmd = &cobra.Command{
		Use:           "smog",
		Short:         "Mirror local photo directories into remote albums",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var debug bool
	rootCmd.PersistentFlags().
		BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.SetDebug(debug)
	}

	var flags syncFlags
	var syncCmd = &cobra.Command{
		Use:   "sync <root-folder> <index-root> <dir>...",
		Short: "Upload new files and flag removed ones",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), flags, args[0], args[1], args[2:])
		},
	}
	syncCmd.Flags().StringVarP(&flags.backend, "backend", "b", "", "Remote backend, 'smugmug' or 'drive'")
	syncCmd.Flags().IntVarP(&flags.concurrency, "concurrency", "c", 0, "Maximum number of concurrent tasks")
	syncCmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "Keep running and sync again on changes")

	var retagCmd = &cobra.Command{
		Use:   "retag <root-folder> <index-root>",
		Short: "Reset the keywords of every album and image to the upload keyword",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetag(cmd.Context(), args[0], args[1])
		},
	}

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the configuration file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.GetInteractive()
			if err != nil {
				return err
			}
			fmt.Println("Configuration written.")
			return nil
		},
	}

	rootCmd.AddCommand(syncCmd, retagCmd, initCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runSync(ctx context.Context, flags syncFlags, rootFolder, indexRoot string, dirs []string) error {
	cfg, err := config.Get()
	if err != nil {
		return err
	}
	if flags.backend != "" {
		cfg.Backend = flags.backend
	}
	if flags.concurrency != 0 {
		cfg.Concurrency = flags.concurrency
	}
	if err = cfg.Validate(); err != nil {
		return err
	}

	srv, closeDb, err := open(ctx, cfg, indexRoot)
	if err != nil {
		return err
	}
	defer closeDb()

	if flags.watch {
		return srv.Watch(ctx, rootFolder, dirs, service.DefaultDebounce)
	}

	report, err := srv.Sync(ctx, rootFolder, dirs)
	if werr := srv.WriteMetrics(); werr != nil {
		logging.Errorf("Could not write metrics: %s", werr)
	}
	if report.Failures > 0 {
		fmt.Printf("done with %d errors\n", report.Errors())
		return fmt.Errorf("%d operations failed", report.Failures)
	}
	if err != nil {
		return err
	}
	if report.Errors() > 0 {
		fmt.Printf("done with %d errors\n", report.Errors())
		return nil
	}
	fmt.Println("done")
	return nil
}

func runRetag(ctx context.Context, rootFolder, indexRoot string) error {
	cfg, err := config.Get()
	if err != nil {
		return err
	}
	srv, closeDb, err := open(ctx, cfg, indexRoot)
	if err != nil {
		return err
	}
	defer closeDb()

	n, err := srv.Retag(ctx, rootFolder)
	if err != nil {
		return err
	}
	fmt.Printf("done, retagged %d\n", n)
	return nil
}

func open(ctx context.Context, cfg config.Config, indexRoot string) (*service.Service, func(), error) {
	d, err := db.New(ctx, indexRoot)
	if err != nil {
		return nil, nil, err
	}
	closeDb := func() {
		if err := d.Close(); err != nil {
			logging.Errorf("Could not close database: %s", err)
		}
	}
	srv, err := service.NewService(ctx, cfg, d)
	if err != nil {
		closeDb()
		return nil, nil, err
	}
	return srv, closeDb, nil
}
