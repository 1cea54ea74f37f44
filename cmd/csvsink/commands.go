package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvsink/internal/handler"
	"github.com/JonMunkholm/csvsink/internal/ingest"
	"github.com/JonMunkholm/csvsink/internal/notify"
	"github.com/JonMunkholm/csvsink/internal/storage"
	"github.com/JonMunkholm/csvsink/internal/watch"
	"github.com/JonMunkholm/csvsink/internal/web"
)

// newRootCmd creates the root command and attaches all sub-commands.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "csvsink",
		Short: "Load CSV objects from storage notifications into a SQL table",
		Long: `csvsink streams CSV objects announced by S3 (or SNS-forwarded S3)
notifications into a relational table. Every object is loaded in its own
transaction: either all of its rows are committed or none are.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(newLambdaCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as an SQS-triggered AWS Lambda function",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			h := handler.NewSQSHandler(a.dispatcher, cfg.Dispatch.ReportBatchItemFailures)
			// The pool survives between invocations of a warm container.
			lambda.Start(h.Handle)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept notifications over HTTP (SNS subscriptions, local testing)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			server := web.NewServer(a.dispatcher, a.db, cfg.Server)

			ctx, stop := signalContext()
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			slog.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("shutdown error", "error", err)
				return err
			}
			return <-errCh
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		file   string
		bucket string
		key    string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Process one notification document or one object and exit",
		Example: `  csvsink run --file event.json
  cat event.json | csvsink run --file -
  csvsink run --bucket uploads --key "2024/q1 sales.csv"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := buildMessage(cmd.InOrStdin(), file, bucket, key)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			report, dispatchErr := a.dispatcher.Dispatch(ctx, []notify.Message{msg})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if dispatchErr != nil {
				return dispatchErr
			}
			if len(report.Failures) > 0 {
				return fmt.Errorf("%d failure(s)", len(report.Failures))
			}
			return nil
		},
	}

	runCmd.Flags().StringVarP(&file, "file", "f", "", "notification JSON file, or - for stdin")
	runCmd.Flags().StringVarP(&bucket, "bucket", "b", "", "bucket of a single object to load")
	runCmd.Flags().StringVarP(&key, "key", "k", "", "key of a single object to load (unencoded)")
	runCmd.MarkFlagsMutuallyExclusive("file", "bucket")
	runCmd.MarkFlagsMutuallyExclusive("file", "key")
	runCmd.MarkFlagsRequiredTogether("bucket", "key")

	return runCmd
}

// buildMessage reads a notification from file (or stdin for "-") or
// synthesizes one for bucket/key.
func buildMessage(stdin io.Reader, file, bucket, key string) (notify.Message, error) {
	switch {
	case file == "-":
		body, err := io.ReadAll(stdin)
		if err != nil {
			return notify.Message{}, fmt.Errorf("read stdin: %w", err)
		}
		return notify.Message{ID: "stdin", Body: body}, nil

	case file != "":
		body, err := os.ReadFile(file)
		if err != nil {
			return notify.Message{}, err
		}
		return notify.Message{ID: filepath.Base(file), Body: body}, nil

	case bucket != "" && key != "":
		body, err := notify.NewEvent(time.Now(), ingest.ObjectRef{Bucket: bucket, Key: key})
		if err != nil {
			return notify.Message{}, err
		}
		return notify.Message{ID: uuid.NewString(), Body: body}, nil
	}
	return notify.Message{}, errors.New("one of --file or --bucket/--key is required")
}

func newWatchCmd() *cobra.Command {
	var root string

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Load CSV files dropped under a local directory (<root>/<bucket>/<key>)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if root == "" {
				root = cfg.Storage.LocalRoot
			}

			store, err := storage.NewLocal(root)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, store)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			w := watch.New(a.dispatcher, store, watch.Options{SettleDelay: cfg.Watch.SettleDelay})
			return w.Run(ctx)
		},
	}

	watchCmd.Flags().StringVarP(&root, "root", "r", "", "directory to watch (default: STORAGE_LOCAL_ROOT)")

	return watchCmd
}
