package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"attendance_srv/internal/cache"
	"attendance_srv/internal/config"
	"attendance_srv/internal/database"
	"attendance_srv/internal/downloads"
	"attendance_srv/internal/report"
	"attendance_srv/internal/service"
	"attendance_srv/internal/session"
	"attendance_srv/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	configFile string
	mode       string
	date       string
	verbose    bool
}

func (o *options) request() (report.Request, error) {
	mode, err := report.ParseMode(o.mode)
	if err != nil {
		return report.Request{}, err
	}
	if o.date == "" {
		return report.NewRequest(mode, time.Now()), nil
	}
	return report.ParseRequest(mode, o.date)
}

// newService assembles the same stack as the server, without HTTP.
func (o *options) newService() (*service.ReportServiceImpl, error) {
	cfg, err := config.LoadFile(o.configFile)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if o.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	store, err := storage.NewStorageFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	fetcher, err := cache.New(store, cache.Options{
		Dir:           cfg.Cache.Dir,
		MaxAge:        cfg.Cache.MaxAge,
		URLExpiration: cfg.Storage.PresignExpiration,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	db, err := database.NewDatabase(database.Config{Driver: cfg.DB.Driver, DSN: cfg.DB.DSN})
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db, logger); err != nil {
		return nil, err
	}

	return service.NewReportService(service.Deps{
		Auth:       session.ForStore(store, logger),
		Cache:      fetcher,
		Lister:     store,
		Saver:      downloads.NewSaver(cfg.Downloads.Dir),
		Repository: service.NewGormReportRepository(db, logger),
		Logger:     logger,
	}), nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "reportctl",
		Short:         "Fetch daily and weekly attendance reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default: config.yaml search path)")
	root.PersistentFlags().StringVarP(&opts.mode, "mode", "m", "daily", "report mode: daily or weekly")
	root.PersistentFlags().StringVarP(&opts.date, "date", "d", "", "report date YYYY-MM-DD, or YYYY-Www for weekly (default: today)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newKeyCmd(opts),
		newLabelCmd(opts),
		newFetchCmd(opts),
		newURLCmd(opts),
		newInvalidateCmd(opts),
		newListCmd(opts),
		newAvailableCmd(opts),
	)
	return root
}

func newKeyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "key",
		Short: "Print the storage key of a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), req.Key())
			return nil
		},
	}
}

func newLabelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "label",
		Short: "Print the display label of a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), req.Label())
			return nil
		},
	}
}

func newFetchCmd(opts *options) *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a report into the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}
			svc, err := opts.newService()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if save {
				res, err := svc.Save(cmd.Context(), req)
				if err != nil {
					return err
				}
				printResult(out, &res.FetchResult)
				fmt.Fprintf(out, "saved to: %s\n", res.SavedTo)
				return nil
			}

			res, err := svc.Fetch(cmd.Context(), req)
			if err != nil {
				return err
			}
			printResult(out, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "also copy the report to the downloads directory")
	return cmd
}

func printResult(out io.Writer, res *service.FetchResult) {
	source := "remote"
	if res.Cached {
		source = "cache"
	}
	fmt.Fprintf(out, "%s\t%s\t%d pages\t%s\n", res.Label, res.Path, res.Pages, source)
}

func newURLCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "url",
		Short: "Print a temporary direct link to a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}
			svc, err := opts.newService()
			if err != nil {
				return err
			}
			u, err := svc.RemoteURL(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
}

func newInvalidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate",
		Short: "Remove a report from the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}
			svc, err := opts.newService()
			if err != nil {
				return err
			}
			removed, err := svc.Invalidate(cmd.Context(), req)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", req.Key())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not cached\n", req.Key())
			}
			return nil
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	var page, pageSize int
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports fetched into the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := service.ListReportParams{Page: page, PageSize: pageSize}
			if !all {
				mode, err := report.ParseMode(opts.mode)
				if err != nil {
					return err
				}
				params.Mode = mode.String()
			}

			svc, err := opts.newService()
			if err != nil {
				return err
			}
			list, err := svc.ListReports(cmd.Context(), params)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODE\tLABEL\tPAGES\tFETCHES\tLAST FETCHED\tSTATUS")
			for _, r := range list.Reports {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
					r.Mode, r.Label, r.Pages, r.FetchCount, r.LastFetchedAt.Local().Format("2006-01-02 15:04"), r.Status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d, %d total\n", list.Page, list.TotalPages, list.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "reports per page")
	cmd.Flags().BoolVar(&all, "all", false, "list both modes")
	return cmd
}

func newAvailableCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "available",
		Short: "List reports present in the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := report.ParseMode(opts.mode)
			if err != nil {
				return err
			}
			svc, err := opts.newService()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			available, err := svc.Available(ctx, mode)
			if err != nil {
				return err
			}
			for _, a := range available {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", a.Label, a.Key, a.Size)
			}
			return nil
		},
	}
}
