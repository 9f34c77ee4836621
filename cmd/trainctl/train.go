package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"finetune-portal/internal/client"
	"finetune-portal/internal/relay"
)

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Submit a training run and stream its logs",
	Long: `Submits a fine-tuning run and follows the live training log until the run
finishes. Interrupting with Ctrl-C cancels the run on the compute backend
before exiting.`,
	RunE: runTrain,
}

var (
	trainRank         int
	trainCheckpoint   string
	trainDataset      string
	trainEpochs       int
	trainFullFinetune bool
)

func init() {
	trainCommand.Flags().IntVar(&trainRank, "rank", 8, "LoRA rank (2, 4, 8, 16 or 32; ignored with --full)")
	trainCommand.Flags().StringVar(&trainCheckpoint, "checkpoint", "base_plus", "Base checkpoint (tiny, small, base_plus, large)")
	trainCommand.Flags().StringVar(&trainDataset, "dataset", "", "Training dataset (irPOLYMER, visPOLYMER, TIG, MAZAK)")
	trainCommand.Flags().IntVar(&trainEpochs, "epochs", 10, "Number of training epochs (1-100)")
	trainCommand.Flags().BoolVar(&trainFullFinetune, "full", false, "Full fine-tune instead of LoRA")
	_ = trainCommand.MarkFlagRequired("dataset")
	rootCmd.AddCommand(trainCommand)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	c, err := portalClient()
	if err != nil {
		return err
	}

	session := client.NewSession(c,
		func(stage relay.Stage) { fmt.Fprintf(os.Stderr, "[%s]\n", stage) },
		func(line string) { fmt.Println(line) },
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(ctx, client.TrainParams{
			Rank:         trainRank,
			Checkpoint:   trainCheckpoint,
			Dataset:      trainDataset,
			Epochs:       trainEpochs,
			FullFinetune: trainFullFinetune,
		})
	}()

	drained := false
	select {
	case err := <-done:
		drained = true
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-ctx.Done():
	}

	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "interrupted, cancelling run")
		// Fresh context: the signal context is already done.
		if err := session.Cancel(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "cancel: %v\n", err)
		}
		if !drained {
			<-done
		}
		return nil
	}

	if session.Stage() == relay.StageCompleted {
		fmt.Fprintf(os.Stderr, "run %s completed; download with: trainctl download --job %s\n",
			session.JobID(), session.JobID())
	}
	return nil
}
