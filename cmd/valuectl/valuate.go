package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vehicle-valuation/internal/app"
	"github.com/vehicle-valuation/internal/job"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/types"
)

const pollInterval = 250 * time.Millisecond

// newValuateCmd creates the valuate subcommand. It runs one job in process
// with an in-memory job store and prints the finished job as JSON.
func newValuateCmd() *cobra.Command {
	var (
		brand   string
		model   string
		year    int
		mileage int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "valuate",
		Short: "Value one vehicle from comparable listings",
		Example: `  valuectl valuate --brand Adria --model "Twin Plus 600 SPB" --year 2022 --mileage 45000
  STORAGE_BACKEND=memory valuectl valuate --brand Knaus --model "Sky TI 650 MF" --year 2018`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := models.TargetVehicle{
				Brand: strings.TrimSpace(brand),
				Model: strings.TrimSpace(model),
				Year:  year,
			}
			if cmd.Flags().Changed("mileage") {
				target.Mileage = models.IntPtr(mileage)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return valuate(ctx, target)
		},
	}

	cmd.Flags().StringVar(&brand, "brand", "", "vehicle brand (required)")
	cmd.Flags().StringVar(&model, "model", "", "vehicle model (required)")
	cmd.Flags().IntVar(&year, "year", 0, "model year (required)")
	cmd.Flags().IntVar(&mileage, "mileage", 0, "odometer reading in km")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "give up after this long")
	cmd.MarkFlagRequired("brand")
	cmd.MarkFlagRequired("model")
	cmd.MarkFlagRequired("year")
	return cmd
}

func valuate(ctx context.Context, target models.TargetVehicle) error {
	engine, err := app.New(ctx, cfg, logger, app.Options{InMemoryJobs: true})
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Jobs.Start(context.Background()); err != nil {
		return err
	}
	defer engine.Jobs.Shutdown(context.Background())

	submitted, err := engine.Jobs.Submit(ctx, &job.SubmitInput{Target: target})
	if err != nil {
		return err
	}

	final, err := waitForJob(ctx, engine.Jobs, submitted.ID)
	if err != nil {
		return err
	}

	out := map[string]interface{}{"job": final}
	if final.Status == types.JobCompleted && final.ReportID != nil {
		report, err := engine.Jobs.GetReport(ctx, *final.ReportID)
		if err != nil {
			return err
		}
		out["report"] = report
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if final.Status == types.JobFailed {
		return fmt.Errorf("valuation failed: %s", deref(final.ErrorMessage))
	}
	return nil
}

// waitForJob polls until the job is terminal. When ctx ends first the job is
// cancelled and waited for once more so it still ends in a terminal state.
func waitForJob(ctx context.Context, jobs job.ValuationJobs, id string) (*models.ValuationJob, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastProgress := -1
	for {
		j, err := jobs.GetStatus(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		if j.Progress != lastProgress {
			logger.WithFields(map[string]interface{}{
				"status":   j.Status,
				"progress": j.Progress,
			}).Info(j.StatusMessage)
			lastProgress = j.Progress
		}
		if j.Status.IsTerminal() {
			return j, nil
		}

		select {
		case <-ctx.Done():
			if _, err := jobs.Cancel(context.WithoutCancel(ctx), id); err != nil {
				logger.WithError(err).Warn("Cancelling valuation failed")
			}
			return waitForJob(context.Background(), jobs, id)
		case <-ticker.C:
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
